package system_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trustification/trustify/engine/infra/postgres"
	"github.com/trustification/trustify/engine/system"
	"github.com/trustification/trustify/engine/vex"
	"github.com/trustification/trustify/engine/vulnerability"
	"github.com/trustification/trustify/test/pgtest"
)

func TestSystem_Integration(t *testing.T) {
	ctx := context.Background()
	cfg := pgtest.Start(ctx, t)

	s, err := system.Bootstrap(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(ctx) })

	record := &vex.Record{
		Vulnerability: "CVE-2024-3094",
		PURL:          "pkg:rpm/fedora/xz@5.6.0?arch=x86_64",
		Status:        vex.StatusAffected,
		Justification: "backdoored release",
	}

	t.Run("Should make committed writes visible to later transactions", func(t *testing.T) {
		created, err := system.Run(ctx, s, func(ctx context.Context, tc *system.Context) (*vex.Statement, error) {
			return tc.Vex().Create(ctx, record)
		})
		require.NoError(t, err)
		got, err := system.Run(ctx, s, func(ctx context.Context, tc *system.Context) (*vex.Statement, error) {
			return tc.Vex().Get(ctx, created.ID)
		})
		require.NoError(t, err)
		assert.Equal(t, "CVE-2024-3094", got.Vulnerability)
		assert.Equal(t, vex.StatusAffected, got.Status)
	})

	t.Run("Should roll back writes when logic fails", func(t *testing.T) {
		badInput := errors.New("bad input")
		err := s.Transaction(ctx, func(ctx context.Context, tc *system.Context) error {
			if _, err := tc.Vex().Create(ctx, &vex.Record{
				Vulnerability: "CVE-2024-9999",
				PURL:          "pkg:npm/left-pad@1.3.0",
				Status:        vex.StatusNotAffected,
			}); err != nil {
				return err
			}
			return badInput
		})
		require.Error(t, err)
		assert.EqualError(t, err, "transaction error: bad input")
		assert.ErrorIs(t, err, badInput)
		err = s.Transaction(ctx, func(ctx context.Context, tc *system.Context) error {
			_, err := tc.Vulnerabilities().Get(ctx, "CVE-2024-9999")
			return err
		})
		assert.ErrorIs(t, err, vulnerability.ErrNotFound)
		kind, _ := system.KindOf(err)
		assert.Equal(t, system.KindTransaction, kind)
	})

	t.Run("Should serialize concurrent writers without lost updates", func(t *testing.T) {
		const writers = 8
		var wg sync.WaitGroup
		errs := make(chan error, writers)
		for range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- ingestNext(ctx, s)
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}
		list, err := system.Run(ctx, s, func(ctx context.Context, tc *system.Context) ([]vulnerability.Vulnerability, error) {
			return tc.Vulnerabilities().List(ctx, &vulnerability.ListFilter{Limit: 500})
		})
		require.NoError(t, err)
		seen := map[string]bool{}
		for _, v := range list {
			seen[v.Identifier] = true
		}
		for i := range writers {
			assert.True(t, seen[fmt.Sprintf("CVE-2030-%04d", 1000+i)], "missing sequence %d", i)
		}
	})

	t.Run("Should bootstrap twice into an empty schema", func(t *testing.T) {
		require.NoError(t, s.Close(ctx))
		for range 2 {
			again, err := system.Bootstrap(ctx, cfg)
			require.NoError(t, err)
			list, err := system.Run(ctx, again, func(ctx context.Context, tc *system.Context) ([]vulnerability.Vulnerability, error) {
				return tc.Vulnerabilities().List(ctx, nil)
			})
			require.NoError(t, err)
			assert.Empty(t, list)
			require.NoError(t, again.Close(ctx))
		}
	})
}

// ingestNext reads how many sequence entries exist and inserts the next one.
// Serializable isolation makes concurrent callers conflict; the caller owns
// retries.
func ingestNext(ctx context.Context, s *system.System) error {
	for {
		err := s.Transaction(ctx, func(ctx context.Context, tc *system.Context) error {
			list, err := tc.Vulnerabilities().List(ctx, &vulnerability.ListFilter{Limit: 500})
			if err != nil {
				return err
			}
			next := 0
			for _, v := range list {
				var n int
				if _, scanErr := fmt.Sscanf(v.Identifier, "CVE-2030-%d", &n); scanErr == nil {
					next++
				}
			}
			_, err = tc.Vulnerabilities().Ingest(ctx, fmt.Sprintf("CVE-2030-%04d", 1000+next), nil)
			return err
		})
		if err == nil {
			return nil
		}
		if postgres.IsSerializationFailure(err) {
			continue
		}
		return err
	}
}
