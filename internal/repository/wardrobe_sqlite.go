package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"stylemate-rest-api/internal/model"
	"stylemate-rest-api/pkg/uid"
)

// SQLiteWardrobeRepository stores wardrobe domain data in SQLite. Every read
// filters by user_id; there is no unscoped query.
type SQLiteWardrobeRepository struct {
	db *sql.DB
}

// NewSQLiteWardrobeRepository creates a SQLite-backed wardrobe repository.
func NewSQLiteWardrobeRepository(db *sql.DB) *SQLiteWardrobeRepository {
	return &SQLiteWardrobeRepository{db: db}
}

var _ WardrobeRepository = (*SQLiteWardrobeRepository)(nil)

// UpsertItem inserts or updates a wardrobe item.
func (r *SQLiteWardrobeRepository) UpsertItem(ctx context.Context, item *model.WardrobeItem) error {
	if item.ID == "" {
		item.ID = uid.New()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO wardrobe_items (id, user_id, name, category, color, notes, times_worn, last_worn_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			category = excluded.category,
			color = excluded.color,
			notes = excluded.notes,
			times_worn = excluded.times_worn,
			last_worn_at = excluded.last_worn_at`,
		item.ID, item.UserID, item.Name, item.Category, item.Color, item.Notes,
		item.TimesWorn, item.LastWornAt, item.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert wardrobe item: %w", err)
	}
	return nil
}

// GetItem returns one item scoped to the user, or ErrNotFound.
func (r *SQLiteWardrobeRepository) GetItem(ctx context.Context, userID, itemID string) (*model.WardrobeItem, error) {
	var item model.WardrobeItem
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, category, color, notes, times_worn, last_worn_at, created_at
		FROM wardrobe_items WHERE id = ? AND user_id = ?`,
		itemID, userID).Scan(&item.ID, &item.UserID, &item.Name, &item.Category,
		&item.Color, &item.Notes, &item.TimesWorn, &item.LastWornAt, &item.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wardrobe item: %w", err)
	}
	return &item, nil
}

// ListItems returns up to limit items for a user, most recently worn first.
func (r *SQLiteWardrobeRepository) ListItems(ctx context.Context, userID string, limit int) ([]model.WardrobeItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, name, category, color, notes, times_worn, last_worn_at, created_at
		FROM wardrobe_items WHERE user_id = ?
		ORDER BY last_worn_at DESC, created_at DESC LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list wardrobe items: %w", err)
	}
	defer rows.Close()

	var items []model.WardrobeItem
	for rows.Next() {
		var item model.WardrobeItem
		err := rows.Scan(&item.ID, &item.UserID, &item.Name, &item.Category,
			&item.Color, &item.Notes, &item.TimesWorn, &item.LastWornAt, &item.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan wardrobe item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// UpsertOutfit inserts or updates an outfit.
func (r *SQLiteWardrobeRepository) UpsertOutfit(ctx context.Context, outfit *model.Outfit) error {
	if outfit.ID == "" {
		outfit.ID = uid.New()
	}

	itemIDs, err := json.Marshal(outfit.ItemIDs)
	if err != nil {
		return fmt.Errorf("failed to serialize outfit items: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO outfits (id, user_id, title, item_ids, occasion, worn_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			item_ids = excluded.item_ids,
			occasion = excluded.occasion,
			worn_at = excluded.worn_at`,
		outfit.ID, outfit.UserID, outfit.Title, string(itemIDs), outfit.Occasion, outfit.WornAt)
	if err != nil {
		return fmt.Errorf("failed to upsert outfit: %w", err)
	}
	return nil
}

// RecentOutfits returns up to limit outfits, most recently worn first.
func (r *SQLiteWardrobeRepository) RecentOutfits(ctx context.Context, userID string, limit int) ([]model.Outfit, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, title, item_ids, occasion, worn_at
		FROM outfits WHERE user_id = ?
		ORDER BY worn_at DESC LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list outfits: %w", err)
	}
	defer rows.Close()

	var outfits []model.Outfit
	for rows.Next() {
		var outfit model.Outfit
		var itemIDs string
		err := rows.Scan(&outfit.ID, &outfit.UserID, &outfit.Title, &itemIDs,
			&outfit.Occasion, &outfit.WornAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outfit: %w", err)
		}
		if err := json.Unmarshal([]byte(itemIDs), &outfit.ItemIDs); err != nil {
			return nil, fmt.Errorf("failed to parse outfit items: %w", err)
		}
		outfits = append(outfits, outfit)
	}
	return outfits, rows.Err()
}

// UpsertCalendarEntry inserts or updates a calendar entry.
func (r *SQLiteWardrobeRepository) UpsertCalendarEntry(ctx context.Context, entry *model.CalendarEntry) error {
	if entry.ID == "" {
		entry.ID = uid.New()
	}

	var weather sql.NullString
	if entry.Weather != nil {
		data, err := json.Marshal(entry.Weather)
		if err != nil {
			return fmt.Errorf("failed to serialize weather: %w", err)
		}
		weather = sql.NullString{String: string(data), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO calendar_entries (id, user_id, title, location, starts_at, weather)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			location = excluded.location,
			starts_at = excluded.starts_at,
			weather = excluded.weather`,
		entry.ID, entry.UserID, entry.Title, entry.Location, entry.StartsAt, weather)
	if err != nil {
		return fmt.Errorf("failed to upsert calendar entry: %w", err)
	}
	return nil
}

// CalendarWindow returns entries between from and to, soonest first.
func (r *SQLiteWardrobeRepository) CalendarWindow(ctx context.Context, userID string, from, to time.Time) ([]model.CalendarEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, title, location, starts_at, weather
		FROM calendar_entries
		WHERE user_id = ? AND starts_at >= ? AND starts_at < ?
		ORDER BY starts_at ASC`,
		userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list calendar entries: %w", err)
	}
	defer rows.Close()

	var entries []model.CalendarEntry
	for rows.Next() {
		var entry model.CalendarEntry
		var weather sql.NullString
		err := rows.Scan(&entry.ID, &entry.UserID, &entry.Title, &entry.Location,
			&entry.StartsAt, &weather)
		if err != nil {
			return nil, fmt.Errorf("failed to scan calendar entry: %w", err)
		}
		if weather.Valid {
			var snap model.WeatherSnapshot
			if err := json.Unmarshal([]byte(weather.String), &snap); err != nil {
				return nil, fmt.Errorf("failed to parse weather: %w", err)
			}
			entry.Weather = &snap
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// UpsertTrip inserts or updates a trip.
func (r *SQLiteWardrobeRepository) UpsertTrip(ctx context.Context, trip *model.Trip) error {
	if trip.ID == "" {
		trip.ID = uid.New()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO trips (id, user_id, destination, starts_at, ends_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			destination = excluded.destination,
			starts_at = excluded.starts_at,
			ends_at = excluded.ends_at`,
		trip.ID, trip.UserID, trip.Destination, trip.StartsAt, trip.EndsAt)
	if err != nil {
		return fmt.Errorf("failed to upsert trip: %w", err)
	}
	return nil
}

// UpcomingTrips returns up to limit trips ending after the given time.
func (r *SQLiteWardrobeRepository) UpcomingTrips(ctx context.Context, userID string, after time.Time, limit int) ([]model.Trip, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, destination, starts_at, ends_at
		FROM trips WHERE user_id = ? AND ends_at > ?
		ORDER BY starts_at ASC LIMIT ?`,
		userID, after, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list trips: %w", err)
	}
	defer rows.Close()

	var trips []model.Trip
	for rows.Next() {
		var trip model.Trip
		err := rows.Scan(&trip.ID, &trip.UserID, &trip.Destination, &trip.StartsAt, &trip.EndsAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trip: %w", err)
		}
		trips = append(trips, trip)
	}
	return trips, rows.Err()
}
