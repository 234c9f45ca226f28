// Package sprite packs images into a sprite sheet and describes their
// coordinates as SCSS variables.
package sprite

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNoImages is returned when there is nothing to pack.
var ErrNoImages = errors.New("sprite: no images")

// Image is one input image.
type Image struct {
	// Name is the file name; the sprite name is derived from its base.
	Name string
	Data []byte
}

// Options configures packing.
type Options struct {
	// ImgPath is the sheet URL written into the fragment.
	ImgPath string

	// Prefix is prepended to every sprite name. Default "sprite-".
	Prefix string

	// Padding is the gap in pixels between sprites.
	Padding int
}

// Sprite is a packed image's placement.
type Sprite struct {
	Name          string
	X, Y          int
	Width, Height int
}

// Sheet is the packed result.
type Sheet struct {
	PNG           []byte
	SCSS          []byte
	Sprites       []Sprite
	Width, Height int
}

// Packer arranges images into a sheet.
type Packer interface {
	Pack(images []Image, opts Options) (*Sheet, error)
}

// BinaryTree packs with a growing binary tree, largest images first.
type BinaryTree struct{}

type block struct {
	name string
	img  image.Image
	w, h int
	fit  *node
}

type node struct {
	x, y, w, h  int
	used        bool
	right, down *node
}

// Pack implements Packer.
func (BinaryTree) Pack(images []Image, opts Options) (*Sheet, error) {
	if len(images) == 0 {
		return nil, ErrNoImages
	}
	if opts.Prefix == "" {
		opts.Prefix = "sprite-"
	}

	blocks := make([]*block, 0, len(images))
	names := make(map[string]int)
	for _, in := range images {
		img, _, err := image.Decode(bytes.NewReader(in.Data))
		if err != nil {
			return nil, fmt.Errorf("sprite %s: %w", in.Name, err)
		}
		b := img.Bounds()
		blocks = append(blocks, &block{
			name: uniqueName(names, opts.Prefix+spriteName(in.Name)),
			img:  img,
			w:    b.Dx() + opts.Padding,
			h:    b.Dy() + opts.Padding,
		})
	}

	order := make([]*block, len(blocks))
	copy(order, blocks)
	sort.SliceStable(order, func(i, j int) bool {
		return max(order[i].w, order[i].h) > max(order[j].w, order[j].h)
	})
	pack(order)

	sheet := &Sheet{}
	for _, b := range blocks {
		w, h := b.w-opts.Padding, b.h-opts.Padding
		sheet.Width = max(sheet.Width, b.fit.x+w)
		sheet.Height = max(sheet.Height, b.fit.y+h)
		sheet.Sprites = append(sheet.Sprites, Sprite{Name: b.name, X: b.fit.x, Y: b.fit.y, Width: w, Height: h})
	}

	canvas := image.NewNRGBA(image.Rect(0, 0, sheet.Width, sheet.Height))
	for i, b := range blocks {
		s := sheet.Sprites[i]
		r := image.Rect(s.X, s.Y, s.X+s.Width, s.Y+s.Height)
		draw.Draw(canvas, r, b.img, b.img.Bounds().Min, draw.Src)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, err
	}
	sheet.PNG = buf.Bytes()
	sheet.SCSS = fragment(sheet, opts.ImgPath)
	return sheet, nil
}

func pack(blocks []*block) {
	root := &node{w: blocks[0].w, h: blocks[0].h}
	for _, b := range blocks {
		if n := find(root, b.w, b.h); n != nil {
			b.fit = split(n, b.w, b.h)
			continue
		}
		root = grow(root, b.w, b.h)
		b.fit = split(find(root, b.w, b.h), b.w, b.h)
	}
}

func find(n *node, w, h int) *node {
	if n == nil {
		return nil
	}
	if n.used {
		if r := find(n.right, w, h); r != nil {
			return r
		}
		return find(n.down, w, h)
	}
	if w <= n.w && h <= n.h {
		return n
	}
	return nil
}

func split(n *node, w, h int) *node {
	n.used = true
	n.down = &node{x: n.x, y: n.y + h, w: n.w, h: n.h - h}
	n.right = &node{x: n.x + w, y: n.y, w: n.w - w, h: h}
	return n
}

// grow extends the root to the right or downward, keeping the sheet
// roughly square.
func grow(root *node, w, h int) *node {
	canDown := w <= root.w
	canRight := h <= root.h
	shouldRight := canRight && root.h >= root.w+w
	shouldDown := canDown && root.w >= root.h+h

	switch {
	case shouldRight:
		return growRight(root, w)
	case shouldDown:
		return growDown(root, h)
	case canRight:
		return growRight(root, w)
	case canDown:
		return growDown(root, h)
	}
	return growDown(growRight(root, w), h)
}

func growRight(root *node, w int) *node {
	return &node{
		used:  true,
		w:     root.w + w,
		h:     root.h,
		down:  root,
		right: &node{x: root.w, w: w, h: root.h},
	}
}

func growDown(root *node, h int) *node {
	return &node{
		used:  true,
		w:     root.w,
		h:     root.h + h,
		down:  &node{y: root.h, w: root.w, h: h},
		right: root,
	}
}

// spriteName derives a variable-safe name from a file name.
func spriteName(file string) string {
	base := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	var b strings.Builder
	for _, r := range strings.ToLower(base) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	if b.Len() == 0 {
		return "image"
	}
	return b.String()
}

func uniqueName(seen map[string]int, name string) string {
	seen[name]++
	if n := seen[name]; n > 1 {
		candidate := fmt.Sprintf("%s-%d", name, n)
		for seen[candidate] > 0 {
			n++
			candidate = fmt.Sprintf("%s-%d", name, n)
		}
		seen[candidate]++
		return candidate
	}
	return name
}

// fragment renders one SCSS variable per sprite:
//
//	$sprite-home: 0px 0px 0px 0px 16px 16px 32px 16px '../imgs/sprites.png';
//
// The values are x, y, offset x, offset y, width, height, sheet width,
// sheet height and image URL.
func fragment(s *Sheet, imgPath string) []byte {
	var b bytes.Buffer
	for _, sp := range s.Sprites {
		fmt.Fprintf(&b, "$%s: %dpx %dpx %dpx %dpx %dpx %dpx %dpx %dpx '%s';\n",
			sp.Name, sp.X, sp.Y, -sp.X, -sp.Y, sp.Width, sp.Height, s.Width, s.Height, imgPath)
	}
	return b.Bytes()
}
