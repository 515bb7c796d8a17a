package repository

import (
	"context"
	"sync"

	"channel-sync-core/internal/domain"
	"channel-sync-core/internal/infrastructure/repository/entity"
	"channel-sync-core/internal/ports"
)

// In-memory store implementations backing tests and single-process
// deployments. Mutex-guarded copies keep readers from observing torn
// writes, matching the durability contract shape of the Mongo stores.

// MemoryCredentialStore is an in-memory CredentialStore.
type MemoryCredentialStore struct {
	mu    sync.RWMutex
	creds map[string]domain.Credential
}

// NewMemoryCredentialStore creates an empty in-memory credential store.
func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{creds: make(map[string]domain.Credential)}
}

func (s *MemoryCredentialStore) Load(_ context.Context, integrationID string) (*domain.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.creds[integrationID]
	if !ok {
		return nil, nil
	}
	return &cred, nil
}

func (s *MemoryCredentialStore) Save(_ context.Context, cred *domain.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[cred.IntegrationID] = *cred
	return nil
}

// MemoryIntegrationStore is an in-memory IntegrationStore.
type MemoryIntegrationStore struct {
	mu           sync.RWMutex
	integrations map[string]domain.Integration
}

// NewMemoryIntegrationStore creates an empty in-memory integration store.
func NewMemoryIntegrationStore() *MemoryIntegrationStore {
	return &MemoryIntegrationStore{integrations: make(map[string]domain.Integration)}
}

func (s *MemoryIntegrationStore) Get(_ context.Context, id string) (*domain.Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	integration, ok := s.integrations[id]
	if !ok {
		return nil, nil
	}
	return &integration, nil
}

func (s *MemoryIntegrationStore) FindByAccount(_ context.Context, platform, externalAccount string) (*domain.Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, integration := range s.integrations {
		if integration.Platform == platform && integration.ExternalAccount == externalAccount {
			found := integration
			return &found, nil
		}
	}
	return nil, nil
}

func (s *MemoryIntegrationStore) Create(_ context.Context, integration *domain.Integration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.integrations[integration.ID] = *integration
	return nil
}

func (s *MemoryIntegrationStore) UpdateStatus(_ context.Context, id string, status domain.IntegrationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	integration, ok := s.integrations[id]
	if !ok {
		return nil
	}
	integration.Status = status
	s.integrations[id] = integration
	return nil
}

// MemoryEntityStore is an in-memory EntityStore.
type MemoryEntityStore struct {
	mu       sync.RWMutex
	mappings map[string]domain.EntityMapping
}

// NewMemoryEntityStore creates an empty in-memory entity store.
func NewMemoryEntityStore() *MemoryEntityStore {
	return &MemoryEntityStore{mappings: make(map[string]domain.EntityMapping)}
}

func (s *MemoryEntityStore) Get(_ context.Context, integrationID string, entityType domain.EntityType, externalID string) (*domain.EntityMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.mappings[entity.MappingDocID(integrationID, entityType, externalID)]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (s *MemoryEntityStore) Put(_ context.Context, mapping *domain.EntityMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mappings[entity.MappingDocID(mapping.IntegrationID, mapping.EntityType, mapping.ExternalID)] = *mapping
	return nil
}

func (s *MemoryEntityStore) Delete(_ context.Context, integrationID string, entityType domain.EntityType, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.mappings, entity.MappingDocID(integrationID, entityType, externalID))
	return nil
}

func (s *MemoryEntityStore) Snapshot(_ context.Context, integrationID string, entityType domain.EntityType) (domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot := make(domain.Snapshot)
	for _, m := range s.mappings {
		if m.IntegrationID == integrationID && m.EntityType == entityType {
			snapshot[m.ExternalID] = m.Hash
		}
	}
	return snapshot, nil
}

// MemoryCheckpointStore is an in-memory CheckpointStore.
type MemoryCheckpointStore struct {
	mu          sync.RWMutex
	checkpoints map[string]ports.Checkpoint
}

// NewMemoryCheckpointStore creates an empty in-memory checkpoint store.
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{checkpoints: make(map[string]ports.Checkpoint)}
}

func (s *MemoryCheckpointStore) Load(_ context.Context, laneKey string) (*ports.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.checkpoints[laneKey]
	if !ok {
		return nil, nil
	}
	return &cp, nil
}

func (s *MemoryCheckpointStore) Save(_ context.Context, laneKey string, cp ports.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[laneKey] = cp
	return nil
}

func (s *MemoryCheckpointStore) Clear(_ context.Context, laneKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checkpoints, laneKey)
	return nil
}

// MemoryRunJournal is an in-memory RunJournal keeping runs in order.
type MemoryRunJournal struct {
	mu   sync.RWMutex
	runs []domain.SyncRun
}

// NewMemoryRunJournal creates an empty in-memory run journal.
func NewMemoryRunJournal() *MemoryRunJournal {
	return &MemoryRunJournal{}
}

func (s *MemoryRunJournal) Record(_ context.Context, run *domain.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, *run)
	return nil
}

func (s *MemoryRunJournal) Latest(_ context.Context, integrationID string, entityType domain.EntityType) (*domain.SyncRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.runs) - 1; i >= 0; i-- {
		if s.runs[i].IntegrationID == integrationID && s.runs[i].EntityType == entityType {
			run := s.runs[i]
			return &run, nil
		}
	}
	return nil, nil
}

// Runs returns a copy of every recorded run, oldest first.
func (s *MemoryRunJournal) Runs() []domain.SyncRun {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.SyncRun, len(s.runs))
	copy(out, s.runs)
	return out
}

var (
	_ ports.CredentialStore  = (*MemoryCredentialStore)(nil)
	_ ports.IntegrationStore = (*MemoryIntegrationStore)(nil)
	_ ports.EntityStore      = (*MemoryEntityStore)(nil)
	_ ports.CheckpointStore  = (*MemoryCheckpointStore)(nil)
	_ ports.RunJournal       = (*MemoryRunJournal)(nil)
)
