package authority

import (
	"context"
	"fmt"
	"io"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// Catalog is the full set of roles and permissions an installation runs
// with. It is usually kept in a YAML file and applied by the seed command.
type Catalog struct {
	Permissions []CatalogPermission `yaml:"permissions"`
	Roles       []CatalogRole       `yaml:"roles"`
}

// CatalogPermission declares one permission.
type CatalogPermission struct {
	Slug        string `yaml:"slug"`
	Description string `yaml:"description,omitempty"`
}

// CatalogRole declares a role and the permission slugs attached to it.
type CatalogRole struct {
	Slug        string   `yaml:"slug"`
	Description string   `yaml:"description,omitempty"`
	Permissions []string `yaml:"permissions,omitempty"`
}

// LoadCatalog decodes a YAML catalog and validates it.
func LoadCatalog(r io.Reader) (Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && err != io.EOF {
		return Catalog{}, fmt.Errorf("decode catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Catalog{}, err
	}
	return c, nil
}

// Validate reports every malformed, duplicated or dangling entry at once.
// An empty catalog is rejected since applying it would delete every role.
func (c Catalog) Validate() error {
	if len(c.Permissions) == 0 && len(c.Roles) == 0 {
		return ErrEmptyCatalog
	}
	var result *multierror.Error

	perms := make(map[string]struct{}, len(c.Permissions))
	for _, p := range c.Permissions {
		if err := checkSlug(p.Slug); err != nil {
			result = multierror.Append(result, fmt.Errorf("permission: %w", err))
			continue
		}
		if _, err := ParsePermission(p.Slug); err != nil {
			result = multierror.Append(result, fmt.Errorf("permission: %w", err))
			continue
		}
		if _, ok := perms[p.Slug]; ok {
			result = multierror.Append(result, fmt.Errorf("permission %q declared twice", p.Slug))
			continue
		}
		perms[p.Slug] = struct{}{}
	}

	roles := make(map[string]struct{}, len(c.Roles))
	for _, r := range c.Roles {
		if err := checkSlug(r.Slug); err != nil {
			result = multierror.Append(result, fmt.Errorf("role: %w", err))
			continue
		}
		if _, ok := roles[r.Slug]; ok {
			result = multierror.Append(result, fmt.Errorf("role %q declared twice", r.Slug))
			continue
		}
		roles[r.Slug] = struct{}{}
		for _, slug := range r.Permissions {
			if _, ok := perms[slug]; !ok {
				result = multierror.Append(result, fmt.Errorf("role %q: permission %q is not declared", r.Slug, slug))
			}
		}
	}

	return result.ErrorOrNil()
}

// ReplaceCatalog makes the stored roles and permissions match c inside a
// single transaction. Listed entries are created or have their
// description refreshed, unlisted ones are deleted together with their
// grants, and every listed role gets exactly the permissions c names.
// Users keep their assignments to roles and permissions that survive.
func (a *Authority) ReplaceCatalog(ctx context.Context, c Catalog) error {
	if err := c.Validate(); err != nil {
		return err
	}

	err := a.RunInTx(ctx, func(ctx context.Context, tx *Authority) error {
		permIDs := make(map[string]PermissionID, len(c.Permissions))
		for _, p := range c.Permissions {
			res, err := tx.AddPermission(ctx, p.Slug, p.Description)
			if err != nil {
				return err
			}
			if err := tx.setDescription(ctx, tx.tables.perm, int64(res.ID), p.Description); err != nil {
				return err
			}
			permIDs[p.Slug] = res.ID
		}

		stored, err := tx.ListPermissions(ctx)
		if err != nil {
			return err
		}
		for _, p := range stored {
			if _, ok := permIDs[p.Slug]; ok {
				continue
			}
			if err := tx.DeletePermission(ctx, p.ID); err != nil {
				return err
			}
		}

		listed := make(map[string]struct{}, len(c.Roles))
		for _, r := range c.Roles {
			res, err := tx.CreateRole(ctx, r.Slug, r.Description)
			if err != nil {
				return err
			}
			if err := tx.setDescription(ctx, tx.tables.role, int64(res.ID), r.Description); err != nil {
				return err
			}
			if _, err := tx.db.NewDelete().Model((*RolePermission)(nil)).ModelTableExpr(tx.tables.rolePerm.name).
				Where("role_id = ?", res.ID).Exec(ctx); err != nil {
				return storageError("reset role permissions", err)
			}
			for _, slug := range r.Permissions {
				if err := tx.GrantPermissionToRole(ctx, res.ID, permIDs[slug]); err != nil {
					return err
				}
			}
			listed[r.Slug] = struct{}{}
		}

		roles, err := tx.ListRoles(ctx)
		if err != nil {
			return err
		}
		for _, r := range roles {
			if _, ok := listed[r.Slug]; ok {
				continue
			}
			if err := tx.DeleteRole(ctx, r.ID); err != nil {
				return err
			}
		}

		return nil
	})

	return a.fail(ctx, "replace catalog", err)
}

func (a *Authority) setDescription(ctx context.Context, t table, id int64, description string) error {
	var value any
	if description != "" {
		value = description
	}
	_, err := a.db.NewUpdate().Table(t.name).Set("description = ?", value).Where("id = ?", id).Exec(ctx)
	return storageError("update description", err)
}
