package repository

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/models"
)

func TestCompleteUnitKeepsFirstCompletion(t *testing.T) {
	store := testStore(t)
	userID := seedUser(t, store)
	repo := NewEnrollmentRepo(store.pool)
	ctx := context.Background()
	first := time.Date(2026, 4, 14, 12, 0, 0, 0, time.UTC)

	at, created, err := repo.CompleteUnit(ctx, userID, "c1", "unit-2", first)
	if err != nil || !created || !at.Equal(first) {
		t.Fatalf("first completion: at=%v created=%v err=%v", at, created, err)
	}
	at, created, err = repo.CompleteUnit(ctx, userID, "c1", "unit-2", first.Add(time.Hour))
	if err != nil || created || !at.Equal(first) {
		t.Fatalf("repeat completion must keep the first time: at=%v created=%v err=%v", at, created, err)
	}
	if _, _, err := repo.CompleteUnit(ctx, userID, "c1", "unit-1", first); err != nil {
		t.Fatalf("complete: %v", err)
	}

	units, err := repo.CompletedUnits(ctx, userID, "c1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !reflect.DeepEqual(units, []string{"unit-1", "unit-2"}) {
		t.Fatalf("units = %v", units)
	}
}

func TestIssueEnrollmentCertificateOncePerCourse(t *testing.T) {
	store := testStore(t)
	userID := seedUser(t, store)
	repo := NewEnrollmentRepo(store.pool)
	ctx := context.Background()

	cert := func(number string) *models.EnrollmentCertificate {
		return &models.EnrollmentCertificate{
			ID: uuid.New(), UserID: userID, CourseID: "c1", CourseName: "Driver Education",
			CertificateNumber: number, CumulativeMinutes: 125,
			CompletedUnits: []string{"unit-1", "unit-2"}, IssuedAt: time.Now().UTC(),
		}
	}

	first, created, err := repo.IssueCertificate(ctx, cert("ENROLL-2026-"+uuid.NewString()[:9]))
	if err != nil || !created {
		t.Fatalf("first issue: created=%v err=%v", created, err)
	}
	second, created, err := repo.IssueCertificate(ctx, cert("ENROLL-2026-"+uuid.NewString()[:9]))
	if err != nil || created {
		t.Fatalf("second issue: created=%v err=%v", created, err)
	}
	if second.ID != first.ID || second.CertificateNumber != first.CertificateNumber {
		t.Fatalf("second issue must return the stored certificate")
	}

	stored, err := repo.GetCertificate(ctx, userID, "c1")
	if err != nil || stored.ID != first.ID || len(stored.CompletedUnits) != 2 {
		t.Fatalf("get: %+v err=%v", stored, err)
	}
	if _, err := repo.GetCertificate(ctx, userID, "other"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}
