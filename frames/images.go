package frames

import (
	"bytes"
	"context"
	"image"
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/chai2010/webp"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// imageExtensions lists the file extensions loaded from an image directory.
var imageExtensions = []string{".jpg", ".jpeg", ".png", ".webp"}

// ImageFile is an encoded image loaded into memory.
type ImageFile struct {
	// Path is the path to the image file.
	Path string
	// Data is the raw bytes of the image file.
	Data []byte
}

// LoadDirectoryImageFiles reads all jpeg, png and webp files from a directory, sorted by name.
//
// Arguments:
//   - dir: Directory path containing image files.
//
// Returns:
//   - []ImageFile: The encoded images.
//   - error: Error if the directory or a file cannot be read.
func LoadDirectoryImageFiles(dir string) ([]ImageFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read image directory %s", dir)
	}

	var files []ImageFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		if !slices.Contains(imageExtensions, strings.ToLower(filepath.Ext(entry.Name()))) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read image %s", path)
		}
		files = append(files, ImageFile{Path: path, Data: data})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Path < files[j].Path
	})

	return files, nil
}

// ImageSource cycles through a directory of images, decoding and preprocessing one file
// per frame. With Options.Synthetic set, the first image is preprocessed once and repeated.
type ImageSource struct {
	opts  Options
	files []ImageFile
	pre   *Preprocessor
}

// NewImageSource loads every image in dir.
//
// Arguments:
//   - dir: The image directory.
//   - opts: The source options.
//
// Returns:
//   - *ImageSource: The source.
//   - error: An error if the options are invalid or the directory holds no images.
func NewImageSource(dir string, opts Options) (*ImageSource, error) {
	if err := opts.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid image source options")
	}
	pre, err := NewPreprocessor(opts.Shape, opts.Normalization)
	if err != nil {
		return nil, err
	}
	files, err := LoadDirectoryImageFiles(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, errors.Errorf("no images found in directory: %s", dir)
	}
	return &ImageSource{opts: opts, files: files, pre: pre}, nil
}

// Open returns a new stream starting at the first image.
func (s *ImageSource) Open(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if s.opts.Synthetic {
		payload, err := s.decode(s.files[0])
		if err != nil {
			return nil, err
		}
		return NewStream(s.opts, func() (*tensor.Dense, error) {
			return payload, nil
		}, nil), nil
	}

	next := 0
	return NewStream(s.opts, func() (*tensor.Dense, error) {
		file := s.files[next%len(s.files)]
		next++
		return s.decode(file)
	}, nil), nil
}

func (s *ImageSource) decode(file ImageFile) (*tensor.Dense, error) {
	var (
		img image.Image
		err error
	)
	if strings.EqualFold(filepath.Ext(file.Path), ".webp") {
		img, err = webp.Decode(bytes.NewReader(file.Data))
	} else {
		img, _, err = image.Decode(bytes.NewReader(file.Data))
	}
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", file.Path)
	}
	payload, err := s.pre.Preprocess(img)
	if err != nil {
		return nil, errors.Wrapf(err, "preprocess %s", file.Path)
	}
	return payload, nil
}
