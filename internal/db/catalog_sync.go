package db

import (
	"context"
	"fmt"

	"beautybot/internal/config"
	"beautybot/internal/model"
)

// SyncCatalog applies catalog.yaml to the database. Services, specialists and links
// missing from the database are added; rows that already exist keep their current
// values, including changes made through staff commands.
func (db *DB) SyncCatalog(ctx context.Context, cat *config.Catalog) error {
	if cat == nil {
		return fmt.Errorf("catalog is nil")
	}

	serviceIDs := make(map[string]int64, len(cat.Services))
	for _, s := range cat.Services {
		id, _, err := db.EnsureService(ctx, model.Service{
			Title:           s.Title,
			Description:     s.Description,
			Price:           s.Price,
			DurationMinutes: s.DurationMinutes,
		})
		if err != nil {
			return err
		}
		serviceIDs[nameKey(s.Title)] = id
	}

	for _, sp := range cat.Specialists {
		id, _, err := db.EnsureSpecialist(ctx, model.Specialist{
			Name:        sp.Name,
			Description: sp.Description,
			IsActive:    sp.IsActive(),
			WorkStart:   sp.WorkStart,
			WorkEnd:     sp.WorkEnd,
		})
		if err != nil {
			return err
		}
		for _, title := range sp.Services {
			serviceID, ok := serviceIDs[nameKey(title)]
			if !ok {
				return fmt.Errorf("specialist %q: unknown service %q", sp.Name, title)
			}
			if _, err := db.LinkSpecialistService(ctx, id, serviceID); err != nil {
				return fmt.Errorf("link %q to %q: %w", sp.Name, title, err)
			}
		}
	}
	return nil
}
