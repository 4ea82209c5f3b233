// Tencent is pleased to support the open source community by making mcpgateway available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// mcpgateway is licensed under the Apache License Version 2.0.

package gateway

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// TransactionTTL bounds how long the user may sit at the IdP login page
	TransactionTTL = 10 * time.Minute

	// AuthCodeTTL bounds how long a minted proxy code stays redeemable
	AuthCodeTTL = 5 * time.Minute

	// sweepInterval is how often expired entries are reclaimed
	sweepInterval = 5 * time.Minute
)

// AuthTransaction is a pending authorization request while the user is at the
// IdP. Keyed by proxy_state; consumed exactly once by the callback.
type AuthTransaction struct {
	ProxyState                string
	ClientID                  string
	ClientRedirectURI         string
	ClientState               string
	ClientCodeChallenge       string
	ClientCodeChallengeMethod string
	ProxyCodeVerifier         string
	RequestedScope            string
	CreatedAt                 time.Time
}

// AuthCodeRecord is a one-shot proxy code redeemable at /token. It carries the
// IdP tokens obtained in the callback plus the client's PKCE commitment.
type AuthCodeRecord struct {
	ProxyCode                 string
	AccessToken               string
	RefreshToken              string
	ExpiresIn                 int64
	Scope                     string
	ClientCodeChallenge       string
	ClientCodeChallengeMethod string
	CreatedAt                 time.Time
}

// TransactionStore owns AuthTransactions and AuthCodeRecords. Lookup-then-
// delete is a single critical section, which is what makes proxy states and
// proxy codes single use under concurrent callbacks.
type TransactionStore struct {
	mu           sync.Mutex
	transactions map[string]*AuthTransaction
	codes        map[string]*AuthCodeRecord

	now func() time.Time

	stopSweep chan struct{}
	sweepDone chan struct{}
	stopOnce  sync.Once
}

// NewTransactionStore creates a store and starts the background sweeper
func NewTransactionStore() *TransactionStore {
	s := &TransactionStore{
		transactions: make(map[string]*AuthTransaction),
		codes:        make(map[string]*AuthCodeRecord),
		now:          time.Now,
		stopSweep:    make(chan struct{}),
		sweepDone:    make(chan struct{}),
	}
	go s.sweep()
	return s
}

// Close stops the background sweeper
func (s *TransactionStore) Close() {
	s.stopOnce.Do(func() {
		close(s.stopSweep)
		<-s.sweepDone
	})
}

// NewProxyState returns a fresh opaque correlation identifier
func NewProxyState() string {
	return uuid.New().String()
}

// NewProxyCode returns a fresh opaque authorization code
func NewProxyCode() string {
	return uuid.New().String()
}

// PutTransaction stores a pending transaction keyed by its proxy state
func (s *TransactionStore) PutTransaction(txn *AuthTransaction) {
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = s.now()
	}
	s.mu.Lock()
	s.transactions[txn.ProxyState] = txn
	s.mu.Unlock()
}

// ConsumeTransaction atomically removes and returns the transaction for the
// given state. Expired transactions are rejected even before the sweeper has
// reclaimed them. Returns nil when the state is unknown, consumed, or stale.
func (s *TransactionStore) ConsumeTransaction(proxyState string) *AuthTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	txn, ok := s.transactions[proxyState]
	if !ok {
		return nil
	}
	delete(s.transactions, proxyState)
	if s.now().Sub(txn.CreatedAt) > TransactionTTL {
		return nil
	}
	return txn
}

// PutCode stores a redeemable proxy code record
func (s *TransactionStore) PutCode(rec *AuthCodeRecord) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	s.mu.Lock()
	s.codes[rec.ProxyCode] = rec
	s.mu.Unlock()
}

// ConsumeCode atomically removes and returns the record for the given proxy
// code. The record is deleted on first read regardless of what the caller does
// with it afterwards, which enforces single use.
func (s *TransactionStore) ConsumeCode(proxyCode string) *AuthCodeRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.codes[proxyCode]
	if !ok {
		return nil
	}
	delete(s.codes, proxyCode)
	if s.now().Sub(rec.CreatedAt) > AuthCodeTTL {
		return nil
	}
	return rec
}

// sweep periodically reclaims expired entries without blocking request paths
func (s *TransactionStore) sweep() {
	defer close(s.sweepDone)
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopSweep:
			return
		case <-ticker.C:
			s.reclaim()
		}
	}
}

func (s *TransactionStore) reclaim() {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for state, txn := range s.transactions {
		if now.Sub(txn.CreatedAt) > TransactionTTL {
			delete(s.transactions, state)
		}
	}
	for code, rec := range s.codes {
		if now.Sub(rec.CreatedAt) > AuthCodeTTL {
			delete(s.codes, code)
		}
	}
}
