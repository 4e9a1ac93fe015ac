package snapshot

import "fmt"

// Memory is a fixed in-memory tree.
type Memory struct {
	label string
	files map[string][]byte
}

// NewMemory builds a snapshot from path → content. Invalid paths are dropped.
func NewMemory(files map[string]string) *Memory {
	m := &Memory{label: "memory", files: make(map[string][]byte, len(files))}
	for rel, content := range files {
		c, err := CleanPath(rel)
		if err != nil {
			continue
		}
		m.files[c] = []byte(content)
	}
	return m
}

func (m *Memory) Describe() string {
	return fmt.Sprintf("%s (%d files)", m.label, len(m.files))
}

func (m *Memory) Exists(rel string) bool {
	c, err := CleanPath(rel)
	if err != nil {
		return false
	}
	_, ok := m.files[c]
	return ok
}

func (m *Memory) ReadFile(rel string) ([]byte, error) {
	c, err := CleanPath(rel)
	if err != nil {
		return nil, err
	}
	data, ok := m.files[c]
	if !ok {
		return nil, notFound(rel)
	}
	return cloneBytes(data), nil
}

func (m *Memory) ReadText(rel string) (string, error) {
	data, err := m.ReadFile(rel)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
