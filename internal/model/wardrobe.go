package model

import "time"

// WardrobeItem is one piece of clothing in a user's closet.
type WardrobeItem struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Name       string     `json:"name"`
	Category   string     `json:"category"` // e.g. top, bottom, shoes, accessory
	Color      string     `json:"color"`
	Notes      string     `json:"notes,omitempty"`
	TimesWorn  int        `json:"times_worn"`
	LastWornAt *time.Time `json:"last_worn_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Outfit is a combination of wardrobe items the user wore or saved.
type Outfit struct {
	ID       string     `json:"id"`
	UserID   string     `json:"user_id"`
	Title    string     `json:"title"`
	ItemIDs  []string   `json:"item_ids"`
	Occasion string     `json:"occasion,omitempty"`
	WornAt   *time.Time `json:"worn_at,omitempty"`
}

// CalendarEntry is an upcoming event the user may want to dress for.
type CalendarEntry struct {
	ID       string           `json:"id"`
	UserID   string           `json:"user_id"`
	Title    string           `json:"title"`
	Location string           `json:"location,omitempty"`
	StartsAt time.Time        `json:"starts_at"`
	Weather  *WeatherSnapshot `json:"weather,omitempty"`
}

// Trip is an upcoming trip window.
type Trip struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Destination string    `json:"destination"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at"`
}

// WeatherSnapshot is a point-in-time weather hint.
type WeatherSnapshot struct {
	TempC        float64 `json:"temp_c"`
	PrecipChance int     `json:"precip_chance"`
	Summary      string  `json:"summary,omitempty"`
}

// ContextPack is the bounded, sanitized slice of a user's domain data
// assembled for one inference request. It is request-scoped and never
// persisted.
type ContextPack struct {
	Items    []WardrobeItem   `json:"items"`
	Outfits  []Outfit         `json:"outfits"`
	Calendar []CalendarEntry  `json:"calendar"`
	Trips    []Trip           `json:"trips"`
	Weather  *WeatherSnapshot `json:"weather,omitempty"`
}
