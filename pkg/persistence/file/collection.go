package file

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var errInvalidID = errors.New("id contains invalid characters")

// collection stores values of T as <root>/<name>/<id>.json.
type collection[T any] struct {
	dir string
}

func newCollection[T any](root, name string) collection[T] {
	return collection[T]{dir: filepath.Join(root, name)}
}

func validateID(id string) error {
	if id == "" {
		return errors.New("id cannot be empty")
	}

	if strings.Contains(id, "..") || strings.ContainsAny(id, `/\`) {
		return errInvalidID
	}

	return nil
}

func (c collection[T]) path(id string) string {
	return filepath.Join(c.dir, id+".json")
}

// read returns nil, nil when the record does not exist.
func (c collection[T]) read(id string) (*T, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}

	body, err := os.ReadFile(c.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read %s: %w", c.path(id), err)
	}

	var value T
	if err := json.Unmarshal(body, &value); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", c.path(id), err)
	}

	return &value, nil
}

func (c collection[T]) readAll() ([]*T, error) {
	files, err := fs.Glob(os.DirFS(c.dir), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", c.dir, err)
	}

	values := make([]*T, 0, len(files))

	for _, file := range files {
		value, err := c.read(strings.TrimSuffix(file, ".json"))
		if err != nil {
			return nil, err
		}

		if value != nil {
			values = append(values, value)
		}
	}

	return values, nil
}

// write replaces the record atomically through a rename.
func (c collection[T]) write(id string, value *T) error {
	if err := validateID(id); err != nil {
		return err
	}

	tmp, err := c.writeTemp(id, value)
	if err != nil {
		return err
	}

	if err := os.Rename(tmp, c.path(id)); err != nil {
		_ = os.Remove(tmp)

		return fmt.Errorf("failed to store %s: %w", id, err)
	}

	return nil
}

func (c collection[T]) writeTemp(id string, value *T) (string, error) {
	if err := os.MkdirAll(c.dir, 0750); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", c.dir, err)
	}

	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s: %w", id, err)
	}

	tmp, err := os.CreateTemp(c.dir, id+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file for %s: %w", id, err)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())

		return "", fmt.Errorf("failed to write %s: %w", id, err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())

		return "", fmt.Errorf("failed to close %s: %w", id, err)
	}

	return tmp.Name(), nil
}

// create writes a record only if none exists. It reports false when the
// id is already taken. The content is complete before the record becomes
// visible.
func (c collection[T]) create(id string, value *T) (bool, error) {
	if err := validateID(id); err != nil {
		return false, err
	}

	tmp, err := c.writeTemp(id, value)
	if err != nil {
		return false, err
	}

	defer func() { _ = os.Remove(tmp) }()

	if err := os.Link(tmp, c.path(id)); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}

		return false, fmt.Errorf("failed to create %s: %w", id, err)
	}

	return true, nil
}

// remove reports false when the record did not exist.
func (c collection[T]) remove(id string) (bool, error) {
	if err := validateID(id); err != nil {
		return false, err
	}

	err := os.Remove(c.path(id))
	if err != nil && os.IsNotExist(err) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("failed to delete %s: %w", id, err)
	}

	return true, nil
}

func paginate[T any](values []*T, limit, offset int) []*T {
	if offset >= len(values) {
		return make([]*T, 0)
	}

	end := offset + limit
	if end > len(values) {
		end = len(values)
	}

	return values[offset:end]
}
