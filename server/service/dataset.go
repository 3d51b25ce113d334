package service

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/bioc/airpart/pkg/dataio"
	"github.com/bioc/airpart/pkg/observation"
	"github.com/bioc/airpart/server/models"
)

// ErrNotFound is returned for unknown dataset and job ids.
var ErrNotFound = errors.New("not found")

type storedDataset struct {
	record *models.Dataset
	data   *observation.Dataset
}

// DatasetService keeps uploaded datasets in memory.
type DatasetService struct {
	datasets map[string]*storedDataset
	mutex    sync.RWMutex
}

// NewDatasetService creates a new dataset service
func NewDatasetService() *DatasetService {
	return &DatasetService{
		datasets: make(map[string]*storedDataset),
	}
}

// Upload validates file and stores it under a new id.
func (s *DatasetService) Upload(name string, file *dataio.DatasetFile) (*models.Dataset, error) {
	data, err := file.Dataset()
	if err != nil {
		return nil, fmt.Errorf("invalid dataset: %w", err)
	}
	categories, err := data.Categories()
	if err != nil {
		return nil, fmt.Errorf("invalid dataset: %w", err)
	}
	if name == "" {
		name = "Unnamed Dataset"
	}

	now := time.Now()
	record := &models.Dataset{
		ID:     uuid.New().String(),
		Name:   name,
		Status: models.DatasetStatusReady,
		Metadata: models.DatasetMetadata{
			GeneCount:  len(data.Genes),
			CellCount:  len(data.Cells),
			Categories: categories,
			Clusters:   clusters(data),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mutex.Lock()
	s.datasets[record.ID] = &storedDataset{record: record, data: data}
	s.mutex.Unlock()

	log.Info().
		Str("dataset_id", record.ID).
		Str("name", name).
		Int("genes", record.Metadata.GeneCount).
		Int("cells", record.Metadata.CellCount).
		Int("categories", len(categories)).
		Msg("Dataset upload complete")

	return record, nil
}

// Get retrieves a dataset record by ID
func (s *DatasetService) Get(datasetID string) (*models.Dataset, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	stored, exists := s.datasets[datasetID]
	if !exists {
		return nil, fmt.Errorf("dataset %s: %w", datasetID, ErrNotFound)
	}
	return stored.record, nil
}

// Data returns the parsed dataset.
func (s *DatasetService) Data(datasetID string) (*observation.Dataset, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	stored, exists := s.datasets[datasetID]
	if !exists {
		return nil, fmt.Errorf("dataset %s: %w", datasetID, ErrNotFound)
	}
	return stored.data, nil
}

// List returns all datasets ordered by creation time.
func (s *DatasetService) List() []*models.Dataset {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	datasets := make([]*models.Dataset, 0, len(s.datasets))
	for _, stored := range s.datasets {
		datasets = append(datasets, stored.record)
	}
	sort.Slice(datasets, func(i, j int) bool {
		return datasets[i].CreatedAt.Before(datasets[j].CreatedAt)
	})
	return datasets
}

// Count returns the number of stored datasets.
func (s *DatasetService) Count() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.datasets)
}

// Delete removes a dataset.
func (s *DatasetService) Delete(datasetID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	stored, exists := s.datasets[datasetID]
	if !exists {
		return fmt.Errorf("dataset %s: %w", datasetID, ErrNotFound)
	}
	stored.record.Status = models.DatasetStatusDeleted
	delete(s.datasets, datasetID)

	log.Info().
		Str("dataset_id", datasetID).
		Msg("Dataset deleted")

	return nil
}

func clusters(ds *observation.Dataset) []string {
	name := ds.ClusterColumn
	if name == "" {
		name = observation.DefaultClusterColumn
	}
	seen := make(map[string]bool)
	var out []string
	for _, v := range ds.GeneData[name] {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}
