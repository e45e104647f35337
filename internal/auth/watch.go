package auth

import (
	"context"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watch keeps session in step with its store: a `fleetctl login` or
// `fleetctl logout` in another terminal refreshes or clears the token of a
// running dashboard. It blocks until ctx is done.
//
// The directory is watched rather than the file because Save replaces the
// file by rename.
func Watch(ctx context.Context, session *Session, log *logrus.Entry) error {
	store := session.Store()
	if store == nil {
		return errors.New("session has no credential store")
	}
	dir := filepath.Dir(store.Path())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errors.Wrap(err, "create credentials directory")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create file watcher")
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return errors.Wrapf(err, "watch %s", dir)
	}

	target := filepath.Clean(store.Path())
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			cred, err := store.Load()
			if err != nil {
				log.WithError(err).Debug("credentials file unreadable, keeping current token")
				continue
			}
			if cred.Token != session.Token() {
				session.Set(cred.Token)
				log.WithField("present", cred.Token != "").Info("credential refreshed from store")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("credential watcher error")
		}
	}
}
