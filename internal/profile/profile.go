package profile

import (
	"context"
	"fmt"
	"log"
	"strings"
)

const (
	DefaultName = "User"

	nameKey     = "userName"
	showHelpKey = "showHelpSection"
)

type Storage interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any) error
}

// Store keeps the user's display name and UI preferences in app storage.
type Store struct {
	storage Storage
}

func NewStore(storage Storage) *Store {
	return &Store{storage: storage}
}

// Name returns the stored display name, or DefaultName when none is stored or
// storage fails.
func (s *Store) Name(ctx context.Context) string {
	var name string
	found, err := s.storage.Get(ctx, nameKey, &name)
	if err != nil {
		log.Printf("[WARN] profile: load name: %v", err)
		return DefaultName
	}
	if !found || strings.TrimSpace(name) == "" {
		return DefaultName
	}
	return name
}

func (s *Store) SetName(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("name is required")
	}
	return s.storage.Set(ctx, nameKey, name)
}

// ShowHelp defaults to true until the user hides the help section.
func (s *Store) ShowHelp(ctx context.Context) bool {
	show := true
	if _, err := s.storage.Get(ctx, showHelpKey, &show); err != nil {
		log.Printf("[WARN] profile: load help preference: %v", err)
		return true
	}
	return show
}

func (s *Store) SetShowHelp(ctx context.Context, show bool) error {
	return s.storage.Set(ctx, showHelpKey, show)
}
