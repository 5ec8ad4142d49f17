package store

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"
)

// Queries maps statement names to the SQL loaded from queries.yaml. Keeping
// the CRUD statements in a file lets deployments adjust them without a
// rebuild.
type Queries map[string]string

// Statement names every deployment must provide.
const (
	QueryGetSecret    = "get_secret"
	QueryUpsertSecret = "upsert_secret"
	QueryDeleteSecret = "delete_secret"
)

// LoadQueries reads and validates a queries.yaml file.
func LoadQueries(path string) (Queries, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read queries file: %w", err)
	}

	var queries Queries
	if err := yaml.Unmarshal(data, &queries); err != nil {
		return nil, fmt.Errorf("failed to parse queries file %s: %w", path, err)
	}

	for _, name := range []string{QueryGetSecret, QueryUpsertSecret, QueryDeleteSecret} {
		if _, ok := queries[name]; !ok {
			return nil, fmt.Errorf("queries file %s is missing %q", path, name)
		}
	}
	return queries, nil
}

// Get returns the named statement.
func (q Queries) Get(name string) (string, error) {
	stmt, ok := q[name]
	if !ok {
		return "", fmt.Errorf("unknown query %q", name)
	}
	return stmt, nil
}
