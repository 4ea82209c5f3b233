// Tencent is pleased to support the open source community by making mcpgateway available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// mcpgateway is licensed under the Apache License Version 2.0.

// Package todo implements the sample per-user todo tools served over MCP.
// All state is partitioned by the caller's IdP object ID, so two users can
// never observe each other's items.
package todo

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Item is a single todo entry owned by one user
type Item struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Done      bool      `json:"done"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists todo items per user. Implementations must be safe for
// concurrent use.
type Store interface {
	Add(userID, text string) (*Item, error)
	List(userID string) ([]*Item, error)
	Complete(userID, itemID string) (*Item, error)
	Delete(userID, itemID string) error
}

// ErrNotFound is returned when an item does not exist for the given user
var ErrNotFound = fmt.Errorf("todo item not found")

// MemoryStore keeps all items in process memory
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string][]*Item // keyed by user object ID, insertion ordered
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string][]*Item)}
}

// Add appends a new item for the user
func (s *MemoryStore) Add(userID, text string) (*Item, error) {
	if text == "" {
		return nil, fmt.Errorf("todo text must not be empty")
	}
	item := &Item{
		ID:        uuid.New().String(),
		Text:      text,
		CreatedAt: time.Now(),
	}
	s.mu.Lock()
	s.items[userID] = append(s.items[userID], item)
	s.mu.Unlock()
	return item, nil
}

// List returns the user's items in insertion order
func (s *MemoryStore) List(userID string) ([]*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]*Item, len(s.items[userID]))
	copy(items, s.items[userID])
	return items, nil
}

// Complete marks the user's item done
func (s *MemoryStore) Complete(userID, itemID string) (*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.items[userID] {
		if item.ID == itemID {
			item.Done = true
			return item, nil
		}
	}
	return nil, ErrNotFound
}

// Delete removes the user's item
func (s *MemoryStore) Delete(userID, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.items[userID]
	for i, item := range items {
		if item.ID == itemID {
			s.items[userID] = append(items[:i], items[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}
