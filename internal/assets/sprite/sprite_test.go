package sprite

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
)

func solidPNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Encode error = %v", err)
	}
	return buf.Bytes()
}

func overlaps(a, b Sprite) bool {
	return a.X < b.X+b.Width && b.X < a.X+a.Width && a.Y < b.Y+b.Height && b.Y < a.Y+a.Height
}

func TestBinaryTree_Pack(t *testing.T) {
	red := color.NRGBA{R: 255, A: 255}
	images := []Image{
		{Name: "icons/home.png", Data: solidPNG(t, 16, 16, red)},
		{Name: "icons/search.png", Data: solidPNG(t, 32, 16, red)},
		{Name: "other/home.png", Data: solidPNG(t, 8, 24, red)},
		{Name: "Arrow Left.png", Data: solidPNG(t, 10, 10, red)},
	}

	sheet, err := BinaryTree{}.Pack(images, Options{ImgPath: "../imgs/sprites/sprites.png", Padding: 2})
	if err != nil {
		t.Fatalf("Pack error = %v", err)
	}

	if len(sheet.Sprites) != len(images) {
		t.Fatalf("Sprites = %d, want %d", len(sheet.Sprites), len(images))
	}
	wantNames := []string{"sprite-home", "sprite-search", "sprite-home-2", "sprite-arrow-left"}
	for i, s := range sheet.Sprites {
		if s.Name != wantNames[i] {
			t.Errorf("Sprites[%d].Name = %q, want %q", i, s.Name, wantNames[i])
		}
		if s.X+s.Width > sheet.Width || s.Y+s.Height > sheet.Height {
			t.Errorf("sprite %s outside sheet %dx%d: %+v", s.Name, sheet.Width, sheet.Height, s)
		}
		for _, o := range sheet.Sprites[i+1:] {
			if overlaps(s, o) {
				t.Errorf("sprites %s and %s overlap", s.Name, o.Name)
			}
		}
	}

	img, err := png.Decode(bytes.NewReader(sheet.PNG))
	if err != nil {
		t.Fatalf("Decode sheet error = %v", err)
	}
	if b := img.Bounds(); b.Dx() != sheet.Width || b.Dy() != sheet.Height {
		t.Errorf("sheet bounds = %v, want %dx%d", b, sheet.Width, sheet.Height)
	}
	home := sheet.Sprites[0]
	if _, _, _, a := img.At(home.X, home.Y).RGBA(); a == 0 {
		t.Error("sprite pixels were not drawn")
	}

	lines := strings.Split(strings.TrimSpace(string(sheet.SCSS)), "\n")
	if len(lines) != len(images) {
		t.Fatalf("fragment has %d entries, want %d:\n%s", len(lines), len(images), sheet.SCSS)
	}
	seen := map[string]bool{}
	for _, l := range lines {
		name := strings.SplitN(l, ":", 2)[0]
		if seen[name] {
			t.Errorf("duplicate entry %s", name)
		}
		seen[name] = true
	}
	want := fmt.Sprintf("$sprite-home: %dpx %dpx %dpx %dpx 16px 16px %dpx %dpx '../imgs/sprites/sprites.png';",
		home.X, home.Y, -home.X, -home.Y, sheet.Width, sheet.Height)
	if lines[0] != want {
		t.Errorf("entry = %q, want %q", lines[0], want)
	}
}

func TestBinaryTree_Single(t *testing.T) {
	sheet, err := BinaryTree{}.Pack([]Image{{Name: "a.png", Data: solidPNG(t, 5, 7, color.Black)}}, Options{Prefix: "s-"})
	if err != nil {
		t.Fatalf("Pack error = %v", err)
	}
	if sheet.Width != 5 || sheet.Height != 7 {
		t.Errorf("sheet = %dx%d, want 5x7", sheet.Width, sheet.Height)
	}
	if !strings.HasPrefix(string(sheet.SCSS), "$s-a: 0px 0px 0px 0px 5px 7px 5px 7px") {
		t.Errorf("SCSS = %q", sheet.SCSS)
	}
}

func TestBinaryTree_Errors(t *testing.T) {
	if _, err := (BinaryTree{}).Pack(nil, Options{}); !errors.Is(err, ErrNoImages) {
		t.Errorf("Pack(nil) error = %v, want ErrNoImages", err)
	}
	if _, err := (BinaryTree{}).Pack([]Image{{Name: "x.png", Data: []byte("nope")}}, Options{}); err == nil {
		t.Error("Pack of invalid image should fail")
	}
}

func TestPack_ManyImagesNoOverlap(t *testing.T) {
	var images []Image
	for i := 0; i < 20; i++ {
		images = append(images, Image{Name: fmt.Sprintf("i%d.png", i), Data: solidPNG(t, 3+i%7, 4+(i*3)%11, color.White)})
	}
	sheet, err := BinaryTree{}.Pack(images, Options{})
	if err != nil {
		t.Fatalf("Pack error = %v", err)
	}
	for i, a := range sheet.Sprites {
		for _, b := range sheet.Sprites[i+1:] {
			if overlaps(a, b) {
				t.Fatalf("sprites %+v and %+v overlap", a, b)
			}
		}
	}
}
