package cron

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

const storeHeader = "# Scheduled function calls, managed by 'clawlink cron'.\n"

// readStore returns the persisted jobs. A missing file is an empty store.
func (s *Scheduler) readStore() ([]Job, error) {
	if s.storePath == "" {
		return nil, nil
	}
	data, err := os.ReadFile(s.storePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cron store: %w", err)
	}
	var list []Job
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse cron store %s: %w", s.storePath, err)
	}
	return list, nil
}

// saveLocked writes persisted jobs sorted by id. Seed jobs never reach the
// store.
func (s *Scheduler) saveLocked() error {
	if s.storePath == "" {
		return nil
	}

	list := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		list = append(list, job)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	body, err := yaml.Marshal(list)
	if err != nil {
		return fmt.Errorf("encode cron store: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.storePath), 0o700); err != nil {
		return err
	}
	tmp := s.storePath + ".tmp"
	if err := os.WriteFile(tmp, append([]byte(storeHeader), body...), 0o600); err != nil {
		return fmt.Errorf("write cron store: %w", err)
	}
	return os.Rename(tmp, s.storePath)
}
