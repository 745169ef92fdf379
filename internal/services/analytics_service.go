package services

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"leadpulse/internal/database"
	"leadpulse/internal/models"

	"github.com/xuri/excelize/v2"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Score histogram bucket labels, low to high.
var scoreBucketLabels = []string{"0-24", "25-49", "50-74", "75-100"}

// analyticsStore is the datastore slice the analytics service needs.
type analyticsStore interface {
	LeadsCreatedBetween(ctx context.Context, from, to time.Time) ([]models.Lead, error)
	MessagesCreatedBetween(ctx context.Context, from, to time.Time) ([]models.Message, error)
	UpsertRollup(ctx context.Context, rollup *models.DailyAnalytics) error
	RollupsBetween(ctx context.Context, fromDate, toDate string) ([]models.DailyAnalytics, error)
}

// AnalyticsService computes per-day rollups of lead and message activity
// and exports them. Rollups are keyed by date and upserted, so re-running a
// day replaces the row instead of duplicating it.
type AnalyticsService struct {
	store analyticsStore
	now   func() time.Time
}

// NewAnalyticsService builds the service over live collections.
func NewAnalyticsService(db *database.MongoDB) *AnalyticsService {
	return &AnalyticsService{
		store: &mongoAnalyticsStore{
			leads:    db.Collection(database.CollectionLeads),
			messages: db.Collection(database.CollectionMessages),
			rollups:  db.Collection(database.CollectionAnalyticsDaily),
		},
		now: time.Now,
	}
}

// NewAnalyticsServiceWithStore builds the service over an explicit store,
// for tests.
func NewAnalyticsServiceWithStore(store analyticsStore) *AnalyticsService {
	return &AnalyticsService{store: store, now: time.Now}
}

// SetClock overrides the service clock, for tests.
func (s *AnalyticsService) SetClock(now func() time.Time) {
	s.now = now
}

// ComputeRollup builds the rollup for the UTC day containing the given
// time. Pure over its inputs apart from the datastore reads.
func (s *AnalyticsService) ComputeRollup(ctx context.Context, day time.Time) (*models.DailyAnalytics, error) {
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	leads, err := s.store.LeadsCreatedBetween(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load leads for rollup: %w", err)
	}
	messages, err := s.store.MessagesCreatedBetween(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages for rollup: %w", err)
	}

	rollup := &models.DailyAnalytics{
		Date:              from.Format("2006-01-02"),
		LeadsByStatus:     map[string]int{},
		LeadsByCountry:    map[string]int{},
		MessagesByChannel: map[string]int{},
		ScoreBuckets:      map[string]int{},
		TotalLeads:        len(leads),
		TotalMessages:     len(messages),
		ComputedAt:        s.now().UTC(),
	}

	for _, lead := range leads {
		rollup.LeadsByStatus[lead.Status]++
		if lead.Country != "" {
			rollup.LeadsByCountry[lead.Country]++
		}
		if lead.Score != nil {
			rollup.ScoreBuckets[scoreBucket(*lead.Score)]++
		}
	}
	for _, msg := range messages {
		rollup.MessagesByChannel[msg.Channel]++
	}

	return rollup, nil
}

// AggregateDay computes and persists the rollup for a day.
func (s *AnalyticsService) AggregateDay(ctx context.Context, day time.Time) (*models.DailyAnalytics, error) {
	rollup, err := s.ComputeRollup(ctx, day)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpsertRollup(ctx, rollup); err != nil {
		return nil, fmt.Errorf("failed to save rollup for %s: %w", rollup.Date, err)
	}
	log.Printf("📊 [ANALYTICS] Rollup %s: %d leads, %d messages", rollup.Date, rollup.TotalLeads, rollup.TotalMessages)
	return rollup, nil
}

// Rollups returns stored rollups in an inclusive date range (YYYY-MM-DD).
func (s *AnalyticsService) Rollups(ctx context.Context, fromDate, toDate string) ([]models.DailyAnalytics, error) {
	return s.store.RollupsBetween(ctx, fromDate, toDate)
}

// ExportXLSX renders rollups into a spreadsheet, one row per day with the
// breakdown maps flattened into stable-ordered columns.
func (s *AnalyticsService) ExportXLSX(ctx context.Context, fromDate, toDate string) ([]byte, error) {
	rollups, err := s.store.RollupsBetween(ctx, fromDate, toDate)
	if err != nil {
		return nil, fmt.Errorf("failed to load rollups for export: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Daily Rollups"
	f.SetSheetName("Sheet1", sheet)

	statuses := collectKeys(rollups, func(r models.DailyAnalytics) map[string]int { return r.LeadsByStatus })
	channels := collectKeys(rollups, func(r models.DailyAnalytics) map[string]int { return r.MessagesByChannel })

	header := []interface{}{"Date", "Total Leads", "Total Messages"}
	for _, status := range statuses {
		header = append(header, "Leads: "+status)
	}
	for _, channel := range channels {
		header = append(header, "Messages: "+channel)
	}
	for _, bucket := range scoreBucketLabels {
		header = append(header, "Score "+bucket)
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("failed to write export header: %w", err)
	}

	for i, rollup := range rollups {
		row := []interface{}{rollup.Date, rollup.TotalLeads, rollup.TotalMessages}
		for _, status := range statuses {
			row = append(row, rollup.LeadsByStatus[status])
		}
		for _, channel := range channels {
			row = append(row, rollup.MessagesByChannel[channel])
		}
		for _, bucket := range scoreBucketLabels {
			row = append(row, rollup.ScoreBuckets[bucket])
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return nil, fmt.Errorf("failed to write export row %d: %w", i+2, err)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to render workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func scoreBucket(score int) string {
	switch {
	case score < 25:
		return scoreBucketLabels[0]
	case score < 50:
		return scoreBucketLabels[1]
	case score < 75:
		return scoreBucketLabels[2]
	default:
		return scoreBucketLabels[3]
	}
}

func collectKeys(rollups []models.DailyAnalytics, pick func(models.DailyAnalytics) map[string]int) []string {
	seen := map[string]bool{}
	for _, rollup := range rollups {
		for key := range pick(rollup) {
			seen[key] = true
		}
	}
	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// mongoAnalyticsStore backs analyticsStore with live collections.
type mongoAnalyticsStore struct {
	leads    *mongo.Collection
	messages *mongo.Collection
	rollups  *mongo.Collection
}

func (m *mongoAnalyticsStore) LeadsCreatedBetween(ctx context.Context, from, to time.Time) ([]models.Lead, error) {
	cursor, err := m.leads.Find(ctx, bson.M{"createdAt": bson.M{"$gte": from, "$lt": to}})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var leads []models.Lead
	if err := cursor.All(ctx, &leads); err != nil {
		return nil, err
	}
	return leads, nil
}

func (m *mongoAnalyticsStore) MessagesCreatedBetween(ctx context.Context, from, to time.Time) ([]models.Message, error) {
	cursor, err := m.messages.Find(ctx, bson.M{"createdAt": bson.M{"$gte": from, "$lt": to}})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var messages []models.Message
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func (m *mongoAnalyticsStore) UpsertRollup(ctx context.Context, rollup *models.DailyAnalytics) error {
	filter := bson.M{"date": rollup.Date}
	update := bson.M{"$set": bson.M{
		"date":              rollup.Date,
		"leadsByStatus":     rollup.LeadsByStatus,
		"leadsByCountry":    rollup.LeadsByCountry,
		"messagesByChannel": rollup.MessagesByChannel,
		"scoreBuckets":      rollup.ScoreBuckets,
		"totalLeads":        rollup.TotalLeads,
		"totalMessages":     rollup.TotalMessages,
		"computedAt":        rollup.ComputedAt,
	}}
	_, err := m.rollups.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

func (m *mongoAnalyticsStore) RollupsBetween(ctx context.Context, fromDate, toDate string) ([]models.DailyAnalytics, error) {
	filter := bson.M{"date": bson.M{"$gte": fromDate, "$lte": toDate}}
	cursor, err := m.rollups.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "date", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var rollups []models.DailyAnalytics
	if err := cursor.All(ctx, &rollups); err != nil {
		return nil, err
	}
	return rollups, nil
}
