package reports

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/veriscan/internal/events"
	"github.com/friendsincode/veriscan/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.AutoMigrate(&models.Report{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestSubmitPersistsReport(t *testing.T) {
	db := setupTestDB(t)
	svc := New(db, "", nil, zerolog.Nop())

	report, err := svc.Submit(context.Background(), Submission{
		PageURL:    "https://news.example.com/story",
		Confidence: 0.93,
		CallerID:   "agent-1",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if report.ID == "" {
		t.Fatal("report should get an ID")
	}

	var stored models.Report
	if err := db.First(&stored, "id = ?", report.ID).Error; err != nil {
		t.Fatalf("loading stored report: %v", err)
	}
	if stored.PageURL != "https://news.example.com/story" || stored.CallerID != "agent-1" {
		t.Fatalf("unexpected stored report %+v", stored)
	}
}

func TestSubmitSanitizesPageURL(t *testing.T) {
	db := setupTestDB(t)
	svc := New(db, "", nil, zerolog.Nop())

	report, err := svc.Submit(context.Background(), Submission{
		PageURL:    "https://news.example.com/story?token=s3cret&ref=home",
		Confidence: 0.80,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if report.PageURL != "https://news.example.com/story?ref=home" {
		t.Fatalf("page URL not sanitized: %q", report.PageURL)
	}
}

func TestSubmitTimestampHandling(t *testing.T) {
	db := setupTestDB(t)
	svc := New(db, "", nil, zerolog.Nop())
	ctx := context.Background()

	detected := time.Date(2026, 8, 20, 14, 30, 0, 0, time.UTC)
	report, err := svc.Submit(ctx, Submission{
		PageURL:    "https://news.example.com/story",
		Confidence: 0.9,
		ReportedAt: detected,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !report.ReportedAt.Equal(detected) {
		t.Fatalf("reported at = %v, want caller's %v", report.ReportedAt, detected)
	}

	before := time.Now()
	report, err = svc.Submit(ctx, Submission{
		PageURL:    "https://news.example.com/other",
		Confidence: 0.9,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if report.ReportedAt.Before(before) || report.ReportedAt.After(time.Now()) {
		t.Fatalf("missing timestamp should default to server time, got %v", report.ReportedAt)
	}
}

func TestSubmitPublishesBusEvent(t *testing.T) {
	db := setupTestDB(t)
	bus := events.NewBus()
	sub := bus.Subscribe(events.EventReportSubmitted)
	svc := New(db, "", bus, zerolog.Nop())

	if _, err := svc.Submit(context.Background(), Submission{PageURL: "https://x.example.com", Confidence: 0.8}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	select {
	case payload := <-sub:
		if payload["page_url"] != "https://x.example.com" {
			t.Fatalf("unexpected payload %+v", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("report event not published")
	}
}

func TestRecentNewestFirst(t *testing.T) {
	db := setupTestDB(t)
	svc := New(db, "", nil, zerolog.Nop())
	ctx := context.Background()

	for i, page := range []string{"https://a.example.com", "https://b.example.com"} {
		report := &models.Report{
			ID:         string(rune('a' + i)),
			PageURL:    page,
			ReportedAt: time.Now().Add(time.Duration(i) * time.Minute),
		}
		if err := db.Create(report).Error; err != nil {
			t.Fatalf("seeding: %v", err)
		}
	}

	recent, err := svc.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("got %d reports, want 2", len(recent))
	}
	if recent[0].PageURL != "https://b.example.com" {
		t.Fatalf("newest should come first, got %s", recent[0].PageURL)
	}
}
