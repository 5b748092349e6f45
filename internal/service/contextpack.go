package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"stylemate-rest-api/internal/model"
	"stylemate-rest-api/internal/repository"
)

const (
	outfitLimit   = 10
	calendarDays  = 7
	tripLimit     = 3
	maxFieldRunes = 120
)

// freeTextSanitizer strips characters that could smuggle markup or prompt
// structure through user-controlled wardrobe fields.
var freeTextSanitizer = strings.NewReplacer(
	"`", "",
	"<", "",
	">", "",
	"[", "",
	"]", "",
	"{", "",
	"}", "",
)

// ContextAssembler builds the bounded, sanitized slice of a user's wardrobe
// data that accompanies one inference request. Everything it reads goes
// through user-scoped repository methods; the pack is request-scoped and
// never persisted.
type ContextAssembler struct {
	wardrobe repository.WardrobeRepository
	itemCap  int
}

// NewContextAssembler creates an assembler with the given item cap.
func NewContextAssembler(wardrobe repository.WardrobeRepository, itemCap int) *ContextAssembler {
	if itemCap < 1 {
		itemCap = 50
	}
	return &ContextAssembler{
		wardrobe: wardrobe,
		itemCap:  itemCap,
	}
}

// Assemble reads the user's wardrobe, recent outfits, calendar window, and
// upcoming trips and returns a capped pack. When focusItemID is set that item
// is pinned to the front of the item list even if it would fall outside the
// cap. A weather hint supplied with the request takes precedence over any
// weather embedded in calendar entries.
func (a *ContextAssembler) Assemble(ctx context.Context, userID, focusItemID string, weather *model.WeatherSnapshot, now time.Time) (*model.ContextPack, error) {
	items, err := a.wardrobe.ListItems(ctx, userID, a.itemCap)
	if err != nil {
		return nil, fmt.Errorf("failed to list wardrobe items: %w", err)
	}

	if focusItemID != "" {
		items = a.pinFocusItem(ctx, userID, focusItemID, items)
	}
	if len(items) > a.itemCap {
		items = items[:a.itemCap]
	}

	outfits, err := a.wardrobe.RecentOutfits(ctx, userID, outfitLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list outfits: %w", err)
	}

	calendar, err := a.wardrobe.CalendarWindow(ctx, userID, now, now.Add(calendarDays*24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("failed to read calendar window: %w", err)
	}

	trips, err := a.wardrobe.UpcomingTrips(ctx, userID, now, tripLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list trips: %w", err)
	}

	if weather == nil {
		weather = firstCalendarWeather(calendar)
	}

	pack := &model.ContextPack{
		Items:    items,
		Outfits:  outfits,
		Calendar: calendar,
		Trips:    trips,
		Weather:  weather,
	}
	sanitizePack(pack)
	return pack, nil
}

// pinFocusItem moves the focus item to the front, fetching it separately if
// the capped listing missed it. An unknown focus item is ignored.
func (a *ContextAssembler) pinFocusItem(ctx context.Context, userID, focusItemID string, items []model.WardrobeItem) []model.WardrobeItem {
	for i, item := range items {
		if item.ID == focusItemID {
			pinned := append([]model.WardrobeItem{items[i]}, items[:i]...)
			return append(pinned, items[i+1:]...)
		}
	}

	item, err := a.wardrobe.GetItem(ctx, userID, focusItemID)
	if err != nil {
		return items
	}
	return append([]model.WardrobeItem{*item}, items...)
}

func firstCalendarWeather(entries []model.CalendarEntry) *model.WeatherSnapshot {
	for _, e := range entries {
		if e.Weather != nil {
			return e.Weather
		}
	}
	return nil
}

func sanitizePack(pack *model.ContextPack) {
	for i := range pack.Items {
		pack.Items[i].Name = sanitizeField(pack.Items[i].Name)
		pack.Items[i].Category = sanitizeField(pack.Items[i].Category)
		pack.Items[i].Color = sanitizeField(pack.Items[i].Color)
		pack.Items[i].Notes = sanitizeField(pack.Items[i].Notes)
	}
	for i := range pack.Outfits {
		pack.Outfits[i].Title = sanitizeField(pack.Outfits[i].Title)
		pack.Outfits[i].Occasion = sanitizeField(pack.Outfits[i].Occasion)
	}
	for i := range pack.Calendar {
		pack.Calendar[i].Title = sanitizeField(pack.Calendar[i].Title)
		pack.Calendar[i].Location = sanitizeField(pack.Calendar[i].Location)
	}
	for i := range pack.Trips {
		pack.Trips[i].Destination = sanitizeField(pack.Trips[i].Destination)
	}
	if pack.Weather != nil {
		pack.Weather.Summary = sanitizeField(pack.Weather.Summary)
	}
}

// sanitizeField strips markup-capable characters and truncates overly long
// free text.
func sanitizeField(s string) string {
	s = freeTextSanitizer.Replace(s)
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) > maxFieldRunes {
		s = string(runes[:maxFieldRunes])
	}
	return s
}

// Summarize renders the pack into the deterministic context block of the
// system prompt. Same pack in, same text out.
func (a *ContextAssembler) Summarize(pack *model.ContextPack) string {
	var b strings.Builder

	b.WriteString("Wardrobe:\n")
	if len(pack.Items) == 0 {
		b.WriteString("  (empty)\n")
	}
	for _, item := range pack.Items {
		fmt.Fprintf(&b, "  - %s (%s, %s), worn %d times\n",
			item.Name, item.Category, item.Color, item.TimesWorn)
	}

	if len(pack.Outfits) > 0 {
		b.WriteString("Recent outfits:\n")
		for _, o := range pack.Outfits {
			fmt.Fprintf(&b, "  - %s", o.Title)
			if o.Occasion != "" {
				fmt.Fprintf(&b, " (%s)", o.Occasion)
			}
			b.WriteString("\n")
		}
	}

	if len(pack.Calendar) > 0 {
		b.WriteString("Upcoming events:\n")
		for _, e := range pack.Calendar {
			fmt.Fprintf(&b, "  - %s on %s", e.Title, e.StartsAt.UTC().Format("2006-01-02"))
			if e.Location != "" {
				fmt.Fprintf(&b, " at %s", e.Location)
			}
			b.WriteString("\n")
		}
	}

	if len(pack.Trips) > 0 {
		b.WriteString("Upcoming trips:\n")
		for _, t := range pack.Trips {
			fmt.Fprintf(&b, "  - %s, %s to %s\n", t.Destination,
				t.StartsAt.UTC().Format("2006-01-02"), t.EndsAt.UTC().Format("2006-01-02"))
		}
	}

	if pack.Weather != nil {
		fmt.Fprintf(&b, "Weather: %.1fC, %d%% chance of precipitation",
			pack.Weather.TempC, pack.Weather.PrecipChance)
		if pack.Weather.Summary != "" {
			fmt.Fprintf(&b, ", %s", pack.Weather.Summary)
		}
		b.WriteString("\n")
	}

	return b.String()
}
