package watcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/fsnotify/fsnotify"
)

// Resolver maps file-system paths back to conversations.
type Resolver interface {
	WatchPath() string
	ResolveChange(path string) (id string, ok bool)
}

// FSNotifier watches the directory a store lives in.
type FSNotifier struct {
	resolver Resolver
}

func NewFSNotifier(r Resolver) *FSNotifier {
	return &FSNotifier{resolver: r}
}

func (n *FSNotifier) Notify(ctx context.Context, out chan<- Signal) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer fw.Close()

	dir := n.resolver.WatchPath()
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	send := func(sig Signal) bool {
		select {
		case out <- sig:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return errors.New("fsnotify event stream closed")
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			id, ok := n.resolver.ResolveChange(event.Name)
			if !ok {
				continue
			}
			if !send(Signal{ConversationID: id}) {
				return nil
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return errors.New("fsnotify error stream closed")
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				if !send(Signal{}) {
					return nil
				}
				continue
			}
			return err
		}
	}
}
