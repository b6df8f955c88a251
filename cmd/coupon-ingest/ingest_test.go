package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/pointshop/internal/domain/coupon"
)

func writeGz(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := pgzip.NewWriter(f)
	_, err = gz.Write([]byte(strings.Join(lines, "\n") + "\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
	return path
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestScanner(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		writeGz(t, dir, "a.gz", "alpha1", "BRAVO22", "charlie", "x", "ONLYINA"),
		writeGz(t, dir, "b.gz", "ALPHA1", "bravo22", "delta44"),
		writeGz(t, dir, "c.gz", "alpha1", "delta44", "ONLYINC"),
	}

	tests := []struct {
		name     string
		minFiles int
		want     []string
	}{
		{name: "AnyFile", minFiles: 1, want: []string{"ALPHA1", "BRAVO22", "CHARLIE", "DELTA44", "ONLYINA", "ONLYINC"}},
		{name: "TwoFiles", minFiles: 2, want: []string{"ALPHA1", "BRAVO22", "DELTA44"}},
		{name: "AllFiles", minFiles: 3, want: []string{"ALPHA1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &scanner{lg: discard(), files: files, minFiles: tt.minFiles, capacity: 1000}
			got, err := s.scan(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScanner_Errors(t *testing.T) {
	dir := t.TempDir()
	one := writeGz(t, dir, "a.gz", "CODE1234")

	for _, s := range []*scanner{
		{files: nil, minFiles: 1},
		{files: []string{one}, minFiles: 2},
		{files: []string{filepath.Join(dir, "missing.gz")}, minFiles: 1},
	} {
		s.lg, s.capacity = discard(), 100
		_, err := s.scan(context.Background())
		assert.Error(t, err)
	}
}

type fakeInserter struct {
	existing map[string]bool
	got      []coupon.Rule
}

func (f *fakeInserter) Insert(_ context.Context, rule coupon.Rule) (bool, error) {
	f.got = append(f.got, rule)
	return !f.existing[rule.Code], nil
}

func TestWriteCoupons(t *testing.T) {
	repo := &fakeInserter{existing: map[string]bool{"OLD1": true}}
	o := options{discountType: "fixed_amount", value: "5000", minOrder: "0", maxUses: 1, validDays: 7, description: "Promo"}
	tmpl, err := o.rule(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	n, err := writeCoupons(context.Background(), discard(), repo, tmpl, []string{"NEW1", "OLD1", "NEW2"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, repo.got, 3)
	assert.Equal(t, "NEW1", repo.got[0].Code)
	assert.Equal(t, coupon.DiscountFixedAmount, repo.got[0].DiscountType)
	require.NotNil(t, repo.got[0].ValidUntil)
	assert.Equal(t, 8, repo.got[0].ValidUntil.Day())
}

func TestOptionsRule_Invalid(t *testing.T) {
	for _, o := range []options{
		{discountType: "bogus", value: "1", minOrder: "0"},
		{discountType: "percentage", value: "150", minOrder: "0"},
		{discountType: "percentage", value: "-1", minOrder: "0"},
		{discountType: "percentage", value: "abc", minOrder: "0"},
	} {
		_, err := o.rule(time.Now())
		assert.Error(t, err, o.discountType+" "+o.value)
	}
}
