package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/prudhvinik1/edgepresence/internal/store"
)

// ReapExpired applies the wills of every client whose lease has expired and
// returns how many were applied. Any number of reapers may run against the
// same server: a will is applied only by the reaper whose HDEL removed it.
func (s *Store) ReapExpired(ctx context.Context) (int, error) {
	wills, err := s.client.HGetAll(ctx, s.willsKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list wills: %w", err)
	}
	if len(wills) == 0 {
		return 0, nil
	}

	alive := make(map[string]bool)
	applied := 0
	for field, raw := range wills {
		clientID, path, ok := splitWillField(field)
		if !ok {
			s.log.WithField("field", field).Warn("dropping malformed will")
			s.client.HDel(ctx, s.willsKey(), field)
			continue
		}

		live, seen := alive[clientID]
		if !seen {
			n, err := s.client.Exists(ctx, s.leaseKey(clientID)).Result()
			if err != nil {
				return applied, fmt.Errorf("failed to check lease of %s: %w", clientID, err)
			}
			live = n > 0
			alive[clientID] = live
		}
		if live {
			continue
		}

		claimed, err := s.client.HDel(ctx, s.willsKey(), field).Result()
		if err != nil {
			return applied, fmt.Errorf("failed to claim will for %s: %w", path, err)
		}
		if claimed == 0 {
			continue
		}

		if err := s.apply(ctx, path, []byte(raw)); err != nil {
			return applied, err
		}
		applied++
		s.log.WithFields(logrus.Fields{"owner": clientID, "path": path}).Info("applied disconnect write")
	}
	return applied, nil
}

func (s *Store) apply(ctx context.Context, path string, raw []byte) error {
	now, err := s.client.Time(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to read server time: %w", err)
	}
	data, err := store.ResolveServerValues(raw, now)
	if err != nil {
		return err
	}
	if err := s.put(ctx, path, data); err != nil {
		return fmt.Errorf("failed to apply disconnect write for %s: %w", path, err)
	}
	return nil
}

// RunReaper calls ReapExpired every interval until ctx is done.
func (s *Store) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.ReapExpired(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.log.WithError(err).Warn("reaper pass failed")
				}
				continue
			}
			if n > 0 {
				s.log.WithField("applied", n).Debug("reaper pass complete")
			}
		}
	}
}
