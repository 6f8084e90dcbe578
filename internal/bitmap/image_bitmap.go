package bitmap

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/makeworld-the-better-one/dither/v2"
	"golang.org/x/image/draw"
)

// Number of dots across the B1 print head.
const PrintheadWidth = 384

// Gamma correction applied before dithering. Thermal labels come out too dark
// without it.
var Gamma = 0.5

type ImageBitmap struct {
	image *image.Paletted
	// colorMap[i] represents the bit value of the palette colour at index i.
	// If the first colour in the image is black, and a high bit in a bitmap
	// sent to the device will be printed as black, then colorMap[0] == 1.
	colorMap [2]byte
}

func (b *ImageBitmap) Width() int {
	return b.image.Rect.Dx()
}

func (b *ImageBitmap) Height() int {
	return b.image.Rect.Dy()
}

func (b *ImageBitmap) GetBit(x int, y int) byte {
	return b.colorMap[b.image.ColorIndexAt(b.image.Rect.Min.X+x, b.image.Rect.Min.Y+y)]
}

func (b *ImageBitmap) String() string {
	return fmt.Sprintf("ImageBitmap(%d,%d)", b.Width(), b.Height())
}

func FromPaletted(i *image.Paletted) (*ImageBitmap, error) {
	if len(i.Palette) != 2 {
		return nil, fmt.Errorf("Image passed to FromPaletted must have only 2 colours in palette")
	}

	var colorMap [2]byte

	// Determine which of the two colours in the image's palette is closest to white.
	if i.Palette.Index(color.White) == 0 {
		colorMap = [2]byte{0, 1}
	} else {
		colorMap = [2]byte{1, 0}
	}

	return &ImageBitmap{
		image:    i,
		colorMap: colorMap,
	}, nil
}

// take an image, scale it to fit across width dots and monochrome-ify it using
// dithering, so it can be used for an ImageBitmap. Narrower images are padded
// with white on the right, as the printer expects full rows.
func RenderForDevice(i image.Image, width int) *image.Paletted {
	if width <= 0 {
		width = PrintheadWidth
	}

	// determine width of bitmap to print, ready to scale
	srcWidth, srcHeight := i.Bounds().Dx(), i.Bounds().Dy()
	newWidth := srcWidth
	if newWidth > width {
		newWidth = width
	}
	newHeight := 0
	if srcWidth > 0 {
		newHeight = srcHeight * newWidth / srcWidth
	}

	bounds := image.Rect(0, 0, width, newHeight)
	scaledImage := image.NewRGBA(bounds)
	draw.Draw(scaledImage, bounds, image.White, image.Point{}, draw.Src)
	// resize image using Catmull Rom scaling
	draw.CatmullRom.Scale(scaledImage, image.Rect(0, 0, newWidth, newHeight), i, i.Bounds(), draw.Over, nil)

	// turn full colour image into monochrome pixel by pixel
	monochromeImage := image.NewGray16(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			grayColor := color.Gray16Model.Convert(scaledImage.At(x, y)).(color.Gray16)
			grayValue := float64(grayColor.Y) / float64(0xFFFF)

			scaledGrayValue := math.Pow(grayValue, Gamma)
			monochromeImage.Set(x, y, color.Gray16{Y: uint16(scaledGrayValue * float64(0xFFFF))})
		}
	}

	// dither monochrome image to black and white
	palette := []color.Color{color.Black, color.White}
	ditherer := dither.NewDitherer(palette)
	ditherer.Matrix = dither.FloydSteinberg
	ditherer.Serpentine = true

	return ditherer.DitherPaletted(monochromeImage)
}
