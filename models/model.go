// Package models - Definitions for the classification models the benchmark knows how to
// feed.
package models

import (
	"github.com/nvr-ai/stream-bench/frames"
)

// Family is the family of models.
type Family string

const (
	// FamilyResNet covers residual networks.
	FamilyResNet Family = "resnet"
	// FamilyMobileNet covers mobile oriented depthwise networks.
	FamilyMobileNet Family = "mobilenet"
	// FamilyEfficientNet covers compound scaled networks.
	FamilyEfficientNet Family = "efficientnet"
	// FamilyRegNet covers design space networks.
	FamilyRegNet Family = "regnet"
	// FamilyConvNeXt covers modernized convolutional networks.
	FamilyConvNeXt Family = "convnext"
	// FamilyViT covers vision transformers.
	FamilyViT Family = "vit"
)

// Name is the unique identifier of a model.
type Name string

// Catalog model names.
const (
	ModelNameResNet18         Name = "resnet18"
	ModelNameResNet50         Name = "resnet50"
	ModelNameMobileNetV3Large Name = "mobilenet_v3_large"
	ModelNameMobileNetV3Small Name = "mobilenet_v3_small"
	ModelNameEfficientNetB0   Name = "efficientnet_b0"
	ModelNameRegNetY400MF     Name = "regnet_y_400mf"
	ModelNameConvNeXtTiny     Name = "convnext_tiny"
	ModelNameViTB16           Name = "vit_b_16"
)

// Model describes the input a model expects.
type Model struct {
	Name          Name                 `json:"name"          yaml:"name"`
	Family        Family               `json:"family"        yaml:"family"`
	Shape         frames.Shape         `json:"shape"         yaml:"shape"`
	Normalization frames.Normalization `json:"normalization" yaml:"normalization"`
	// Classes is the width of the classifier output.
	Classes int `json:"classes"       yaml:"classes"`
}

// FrameOptions returns source options carrying the model geometry and normalization.
func (m Model) FrameOptions() frames.Options {
	return frames.Options{
		Shape:         m.Shape,
		Normalization: m.Normalization,
	}
}
