package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestErrorClassification(t *testing.T) {
	unique := fmt.Errorf("insert appointment: %w", &pgconn.PgError{Code: "23505"})
	if !IsUniqueViolation(unique) {
		t.Fatal("expected wrapped 23505 to be a unique violation")
	}
	if IsExclusionViolation(unique) {
		t.Fatal("unique violation must not be classified as exclusion violation")
	}
	if !IsExclusionViolation(&pgconn.PgError{Code: "23P01"}) {
		t.Fatal("expected 23P01 to be an exclusion violation")
	}
	if !IsInvalidInput(&pgconn.PgError{Code: "22P02"}) {
		t.Fatal("expected 22P02 to be invalid input")
	}
	if !IsNoRows(fmt.Errorf("get slot: %w", pgx.ErrNoRows)) {
		t.Fatal("expected wrapped ErrNoRows to be detected")
	}
	if IsNoRows(errors.New("boom")) {
		t.Fatal("plain error must not be ErrNoRows")
	}
}

func TestReadyCheckWithoutPool(t *testing.T) {
	if err := ReadyCheck(nil)(t.Context()); err == nil {
		t.Fatal("expected error for missing pool")
	}
}
