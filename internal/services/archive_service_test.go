package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type fakeCollection struct {
	docs       []bson.M
	insertErr  error
	deleteErr  error
	failAfter  int // fail InsertDocs after persisting this many docs
	insertions int
	deletions  int
}

func matches(doc, filter bson.M) bool {
	for field, want := range filter {
		got, ok := doc[field]
		cond, isCond := want.(bson.M)
		if !isCond {
			if !ok || got != want {
				return false
			}
			continue
		}
		for op, operand := range cond {
			switch op {
			case "$lt":
				t1, ok1 := got.(time.Time)
				t2, ok2 := operand.(time.Time)
				if !ok || !ok1 || !ok2 || !t1.Before(t2) {
					return false
				}
			case "$ne":
				if ok && got == operand {
					return false
				}
			default:
				return false
			}
		}
	}
	return true
}

func (f *fakeCollection) FindDocs(ctx context.Context, filter bson.M, limit int64) ([]bson.M, error) {
	var out []bson.M
	for _, doc := range f.docs {
		if matches(doc, filter) {
			out = append(out, doc)
			if int64(len(out)) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeCollection) InsertDocs(ctx context.Context, docs []interface{}) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	// Ordered-insert semantics: the prefix before a failure stays persisted,
	// and a doc whose originalId already exists rejects like the unique
	// index would.
	for i, doc := range docs {
		if f.failAfter > 0 && i >= f.failAfter {
			return errors.New("connection reset mid-batch")
		}
		d := doc.(bson.M)
		if originalID, present := d["originalId"]; present {
			for _, existing := range f.docs {
				if existing["originalId"] == originalID {
					return fmt.Errorf("duplicate key error: originalId %v", originalID)
				}
			}
		}
		f.docs = append(f.docs, d)
		f.insertions++
	}
	return nil
}

func (f *fakeCollection) DeleteByIDs(ctx context.Context, ids []interface{}) (int64, error) {
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	keep := f.docs[:0]
	var deleted int64
	for _, doc := range f.docs {
		removed := false
		for _, id := range ids {
			if doc["_id"] == id {
				removed = true
				break
			}
		}
		if removed {
			deleted++
			f.deletions++
		} else {
			keep = append(keep, doc)
		}
	}
	f.docs = keep
	return deleted, nil
}

func (f *fakeCollection) DeleteByOriginalIDs(ctx context.Context, originalIDs []string) (int64, error) {
	keep := f.docs[:0]
	var deleted int64
	for _, doc := range f.docs {
		removed := false
		for _, id := range originalIDs {
			if doc["originalId"] == id {
				removed = true
				break
			}
		}
		if removed {
			deleted++
			f.deletions++
		} else {
			keep = append(keep, doc)
		}
	}
	f.docs = keep
	return deleted, nil
}

func (f *fakeCollection) FindOneDoc(ctx context.Context, filter bson.M) (bson.M, error) {
	for _, doc := range f.docs {
		if matches(doc, filter) {
			return doc, nil
		}
	}
	return nil, nil
}

func (f *fakeCollection) DeleteOneDoc(ctx context.Context, filter bson.M) error {
	for i, doc := range f.docs {
		if matches(doc, filter) {
			f.docs = append(f.docs[:i], f.docs[i+1:]...)
			f.deletions++
			return nil
		}
	}
	return nil
}

func (f *fakeCollection) Count(ctx context.Context, filter bson.M) (int64, error) {
	docs, err := f.FindDocs(ctx, filter, int64(len(f.docs))+1)
	return int64(len(docs)), err
}

func messageDoc(age time.Duration, active bool, now time.Time) bson.M {
	return bson.M{
		"_id":       primitive.NewObjectID(),
		"content":   "hello",
		"channel":   "email",
		"isActive":  active,
		"createdAt": now.Add(-age),
	}
}

func newArchiveFixture(now time.Time) (*ArchiveService, *fakeCollection, *fakeCollection) {
	messages := &fakeCollection{}
	archive := &fakeCollection{}
	svc := NewArchiveServiceWithCollections(messages, archive, &fakeCollection{}, &fakeCollection{})
	svc.SetClock(func() time.Time { return now })
	return svc, messages, archive
}

func TestArchiveOldMessagesMovesAgedRecords(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc, messages, archive := newArchiveFixture(now)

	old := messageDoc(200*24*time.Hour, false, now)
	fresh := messageDoc(10*24*time.Hour, false, now)
	activeOld := messageDoc(200*24*time.Hour, true, now)
	messages.docs = []bson.M{old, fresh, activeOld}

	result, err := svc.ArchiveOldMessages(context.Background(), ArchiveOptions{})
	if err != nil {
		t.Fatalf("ArchiveOldMessages() error: %v", err)
	}
	if result.Archived != 1 {
		t.Fatalf("archived = %d, want 1", result.Archived)
	}
	if len(messages.docs) != 2 {
		t.Fatalf("live messages = %d, want 2", len(messages.docs))
	}
	if len(archive.docs) != 1 {
		t.Fatalf("archive copies = %d, want 1", len(archive.docs))
	}

	copy := archive.docs[0]
	if copy["content"] != "hello" || copy["channel"] != "email" {
		t.Errorf("archive copy lost fields: %v", copy)
	}
	if _, present := copy["_id"]; present {
		t.Error("archive copy should not carry the original _id")
	}
	wantID := old["_id"].(primitive.ObjectID).Hex()
	if copy["originalId"] != wantID {
		t.Errorf("originalId = %v, want %s", copy["originalId"], wantID)
	}
	if _, present := copy["archivedAt"]; !present {
		t.Error("archive copy missing archivedAt")
	}
}

func TestArchiveDryRunTouchesNothing(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc, messages, archive := newArchiveFixture(now)
	messages.docs = []bson.M{
		messageDoc(200*24*time.Hour, false, now),
		messageDoc(300*24*time.Hour, false, now),
	}

	result, err := svc.ArchiveOldMessages(context.Background(), ArchiveOptions{DryRun: true})
	if err != nil {
		t.Fatalf("ArchiveOldMessages() error: %v", err)
	}
	if !result.DryRun {
		t.Error("result should flag dry run")
	}
	if result.Archived != 2 {
		t.Errorf("dry run count = %d, want 2", result.Archived)
	}
	if len(messages.docs) != 2 || len(archive.docs) != 0 {
		t.Error("dry run mutated collections")
	}
	if archive.insertions != 0 || messages.deletions != 0 {
		t.Error("dry run performed writes")
	}
}

func TestArchiveSaveFailureAbortsBeforeDelete(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc, messages, archive := newArchiveFixture(now)
	messages.docs = []bson.M{messageDoc(200*24*time.Hour, false, now)}
	archive.insertErr = errors.New("write concern failed")

	_, err := svc.ArchiveOldMessages(context.Background(), ArchiveOptions{})
	if err == nil {
		t.Fatal("expected error when archive save fails")
	}
	if len(messages.docs) != 1 {
		t.Fatal("originals must survive a failed archive save")
	}
	if messages.deletions != 0 {
		t.Fatal("delete ran despite failed save")
	}
}

func TestArchiveRetriesAfterPartialSave(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc, messages, archive := newArchiveFixture(now)
	for i := 0; i < 3; i++ {
		messages.docs = append(messages.docs, messageDoc(200*24*time.Hour, false, now))
	}

	// First run loses the connection mid-batch: two copies persist, the run
	// aborts before any delete.
	archive.failAfter = 2
	if _, err := svc.ArchiveOldMessages(context.Background(), ArchiveOptions{}); err == nil {
		t.Fatal("expected error from interrupted archive save")
	}
	if len(messages.docs) != 3 {
		t.Fatalf("live messages = %d, want 3 after aborted run", len(messages.docs))
	}
	if len(archive.docs) != 2 {
		t.Fatalf("leftover copies = %d, want 2", len(archive.docs))
	}

	// The retry re-selects the same oldest batch. The leftover copies carry
	// the same originalIds and must not wedge the run on uniqueness.
	archive.failAfter = 0
	result, err := svc.ArchiveOldMessages(context.Background(), ArchiveOptions{})
	if err != nil {
		t.Fatalf("retry after partial save failed: %v", err)
	}
	if result.Archived != 3 {
		t.Errorf("archived = %d, want 3", result.Archived)
	}
	if len(messages.docs) != 0 {
		t.Errorf("live messages = %d, want 0 after retry", len(messages.docs))
	}
	if len(archive.docs) != 3 {
		t.Fatalf("archive copies = %d, want 3", len(archive.docs))
	}
	seen := map[interface{}]bool{}
	for _, doc := range archive.docs {
		if seen[doc["originalId"]] {
			t.Fatalf("duplicate archive copy for %v", doc["originalId"])
		}
		seen[doc["originalId"]] = true
	}
}

func TestArchiveHonorsLimit(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc, messages, archive := newArchiveFixture(now)
	for i := 0; i < 5; i++ {
		messages.docs = append(messages.docs, messageDoc(200*24*time.Hour, false, now))
	}

	result, err := svc.ArchiveOldMessages(context.Background(), ArchiveOptions{Limit: 2})
	if err != nil {
		t.Fatalf("ArchiveOldMessages() error: %v", err)
	}
	if result.Archived != 2 {
		t.Errorf("archived = %d, want 2", result.Archived)
	}
	if len(messages.docs) != 3 || len(archive.docs) != 2 {
		t.Errorf("live=%d archive=%d, want 3/2", len(messages.docs), len(archive.docs))
	}
}

func TestRestoreMessage(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc, messages, archive := newArchiveFixture(now)

	messages.docs = []bson.M{messageDoc(200*24*time.Hour, false, now)}
	originalID := messages.docs[0]["_id"].(primitive.ObjectID).Hex()
	if _, err := svc.ArchiveOldMessages(context.Background(), ArchiveOptions{}); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if len(messages.docs) != 0 {
		t.Fatal("expected empty live collection after archive")
	}

	if err := svc.RestoreMessage(context.Background(), originalID); err != nil {
		t.Fatalf("RestoreMessage() error: %v", err)
	}
	if len(messages.docs) != 1 {
		t.Fatal("restore did not recreate the live record")
	}
	restored := messages.docs[0]
	if restored["content"] != "hello" {
		t.Errorf("restored content = %v", restored["content"])
	}
	if restored["_id"].(primitive.ObjectID).Hex() != originalID {
		t.Errorf("restored _id = %v, want %s", restored["_id"], originalID)
	}
	if _, present := restored["archivedAt"]; present {
		t.Error("restore must strip archivedAt")
	}
	if len(archive.docs) != 0 {
		t.Error("archive copy should be removed after restore")
	}
}

func TestRestoreMessageUnknownID(t *testing.T) {
	svc, _, _ := newArchiveFixture(time.Now())
	err := svc.RestoreMessage(context.Background(), primitive.NewObjectID().Hex())
	if !errors.Is(err, ErrArchiveNotFound) {
		t.Fatalf("err = %v, want ErrArchiveNotFound", err)
	}
}
