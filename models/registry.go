// Package models - registry for models.
package models

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/nvr-ai/stream-bench/frames"
)

var (
	mu       sync.RWMutex
	registry = map[Name]Model{}
)

func imagenet(name Name, family Family, size int) Model {
	return Model{
		Name:   name,
		Family: family,
		Shape:  frames.Shape{Channels: 3, Height: size, Width: size},
		Normalization: frames.Normalization{
			Mean: slices.Clone(frames.ImageNetMean),
			Std:  slices.Clone(frames.ImageNetStd),
		},
		Classes: 1000,
	}
}

func init() {
	for _, m := range []Model{
		imagenet(ModelNameResNet18, FamilyResNet, 224),
		imagenet(ModelNameResNet50, FamilyResNet, 224),
		imagenet(ModelNameMobileNetV3Large, FamilyMobileNet, 224),
		imagenet(ModelNameMobileNetV3Small, FamilyMobileNet, 224),
		imagenet(ModelNameEfficientNetB0, FamilyEfficientNet, 224),
		imagenet(ModelNameRegNetY400MF, FamilyRegNet, 224),
		imagenet(ModelNameConvNeXtTiny, FamilyConvNeXt, 224),
		imagenet(ModelNameViTB16, FamilyViT, 224),
	} {
		if err := Register(m); err != nil {
			panic(err)
		}
	}
}

// Register adds a model to the catalog.
//
// Arguments:
//   - m: The model. Its name must be unused and its geometry valid.
//
// Returns:
//   - error: An error if the name is taken or the model is invalid.
func Register(m Model) error {
	if m.Name == "" {
		return fmt.Errorf("model name is required")
	}
	if err := m.Shape.Validate(); err != nil {
		return fmt.Errorf("model %s: %w", m.Name, err)
	}
	if err := m.Normalization.Validate(m.Shape.Channels); err != nil {
		return fmt.Errorf("model %s: %w", m.Name, err)
	}

	mu.Lock()
	defer mu.Unlock()
	if _, ok := registry[m.Name]; ok {
		return fmt.Errorf("model %s already registered", m.Name)
	}
	registry[m.Name] = m
	return nil
}

// Lookup returns a copy of the catalog entry for name, case-insensitively.
func Lookup(name string) (Model, error) {
	mu.RLock()
	defer mu.RUnlock()

	m, ok := registry[Name(strings.ToLower(strings.TrimSpace(name)))]
	if !ok {
		return Model{}, fmt.Errorf("unsupported model name: %s", name)
	}
	m.Normalization.Mean = slices.Clone(m.Normalization.Mean)
	m.Normalization.Std = slices.Clone(m.Normalization.Std)
	return m, nil
}

// Names returns every registered model name, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, string(n))
	}
	slices.Sort(names)
	return names
}
