package emby

import "fmt"

// Webhook event types emitted by the Emby notification plugin.
const (
	EventLibraryNew     = "library.new"
	EventLibraryDeleted = "library.deleted"
)

const ItemTypeEpisode = "Episode"

// WebhookItem is the item payload inside a webhook notification. Emby
// reports the season either as SeasonNumber or as ParentIndexNumber
// depending on the notifier version.
type WebhookItem struct {
	ID                string `json:"Id" validate:"required"`
	Type              string `json:"Type" validate:"required"`
	Name              string `json:"Name" validate:"required"`
	Path              string `json:"Path,omitempty"`
	LibraryID         string `json:"LibraryId,omitempty"`
	SeriesID          string `json:"SeriesId,omitempty"`
	SeriesName        string `json:"SeriesName,omitempty"`
	SeasonNumber      *int   `json:"SeasonNumber,omitempty"`
	ParentIndexNumber *int   `json:"ParentIndexNumber,omitempty"`
	IndexNumber       *int   `json:"IndexNumber,omitempty"`
}

func (i WebhookItem) Season() int {
	if i.SeasonNumber != nil {
		return *i.SeasonNumber
	}
	if i.ParentIndexNumber != nil {
		return *i.ParentIndexNumber
	}
	return 0
}

type WebhookServer struct {
	ID   string `json:"Id,omitempty"`
	Name string `json:"Name,omitempty"`
}

type WebhookUser struct {
	ID   string `json:"Id,omitempty"`
	Name string `json:"Name,omitempty"`
}

// WebhookEvent is one inbound notification.
type WebhookEvent struct {
	Event  string         `json:"Event" validate:"required"`
	Item   WebhookItem    `json:"Item" validate:"required"`
	Server *WebhookServer `json:"Server,omitempty"`
	User   *WebhookUser   `json:"User,omitempty"`
}

func (e *WebhookEvent) IsEpisode() bool {
	return e.Item.Type == ItemTypeEpisode
}

// BucketKey derives the aggregation key. Episodes of one series/season
// share a bucket so a season-sized burst folds into one record. The series
// is identified by SeriesId when the notifier provides one; otherwise by
// library id plus name, and by name alone as the last resort (series names
// can collide across libraries, so the id forms are preferred).
func (e *WebhookEvent) BucketKey() string {
	if !e.IsEpisode() {
		return fmt.Sprintf("%s|item:%s", e.Event, e.Item.ID)
	}
	series := e.Item.SeriesName
	switch {
	case e.Item.SeriesID != "":
		series = "id:" + e.Item.SeriesID
	case e.Item.LibraryID != "":
		series = e.Item.LibraryID + "/" + e.Item.SeriesName
	}
	return fmt.Sprintf("%s|series:%s|season:%d", e.Event, series, e.Item.Season())
}

// SeriesDisplayName is what gets persisted as the record name for episode
// buckets; individual episode titles are meaningless at season granularity.
func (e *WebhookEvent) SeriesDisplayName() string {
	if e.IsEpisode() && e.Item.SeriesName != "" {
		return fmt.Sprintf("%s S%02d", e.Item.SeriesName, e.Item.Season())
	}
	return e.Item.Name
}
