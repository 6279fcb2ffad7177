package render

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoice-split/pkg/errdefs"
	"invoice-split/pkg/models"
	"invoice-split/pkg/pdffixture"
)

func TestFitzRendersEveryPage(t *testing.T) {
	doc := models.Document{Name: "three.pdf", Data: pdffixture.Build(144, 288, 144)}

	pages, err := NewFitz(72).Render(context.Background(), doc)
	require.NoError(t, err)
	require.Len(t, pages, 3)
	for i, p := range pages {
		assert.Equal(t, i, p.Index)
		require.NotNil(t, p.Image)
	}
	assert.Greater(t, pages[1].Image.Bounds().Dx(), pages[0].Image.Bounds().Dx())
}

func TestFitzRejectsGarbage(t *testing.T) {
	_, err := NewFitz(0).Render(context.Background(), models.Document{Name: "x.pdf", Data: []byte("not a pdf")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errdefs.ErrRender))
}

func TestNewFitzDefaultsDPI(t *testing.T) {
	assert.Equal(t, float64(DefaultDPI), NewFitz(-1).DPI)
}

func TestEncodeJPEGFitsLongestSide(t *testing.T) {
	img := imaging.New(4000, 1000, color.White)

	data, err := EncodeJPEG(img, 2048)
	require.NoError(t, err)
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 2048, cfg.Width)
	assert.Equal(t, 512, cfg.Height)
}

func TestPrepareLeavesSmallImages(t *testing.T) {
	img := imaging.New(300, 200, color.Black)
	assert.Same(t, img, Prepare(img, 2048))
}
