package dataset

import (
	"encoding/binary"
	"image"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/chai2010/tiff"
	"github.com/pkg/errors"
)

// GeoTIFFDecoder reads tiff scenes band by band into a *Raster, keeping every
// band and the stored sample values: 8 to 64 bit integers and 32 or 64 bit
// floats, chunky or planar, in strips or tiles. Other formats go to
// StdDecoder.
type GeoTIFFDecoder struct{}

// Decode implements ImageDecoder.
func (GeoTIFFDecoder) Decode(path string) (image.Image, error) {
	if !isTIFF(path) {
		return StdDecoder{}.Decode(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %q", path)
	}
	defer f.Close()

	r, err := ReadRaster(f)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %q", path)
	}
	return r, nil
}

func isTIFF(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		return true
	}
	return false
}

// sampleLayout is what the first image directory says about its samples.
type sampleLayout struct {
	order     binary.ByteOrder
	bands     int
	depth     int
	format    SampleFormat
	planar    bool
	predictor bool
}

func readLayout(ifd *tiff.IFD) (sampleLayout, error) {
	tags := ifd.TagGetter()
	l := sampleLayout{order: ifd.Header.ByteOrder}

	spp, _ := tags.GetSamplesPerPixel()
	l.bands = int(spp)
	if l.depth = ifd.Depth(); l.depth == 0 {
		return l, errors.Wrap(ErrUnsupported, "bands with different bit depths")
	}
	switch l.depth {
	case 8, 16, 32, 64:
	default:
		return l, errors.Wrapf(ErrUnsupported, "%d bit samples", l.depth)
	}

	formats, _ := tags.GetSampleFormat()
	if len(formats) == 0 {
		formats = []int64{int64(tiff.TagValue_SampleFormatType_Uint)}
	}
	for _, f := range formats[1:] {
		if f != formats[0] {
			return l, errors.Wrap(ErrUnsupported, "bands with different sample formats")
		}
	}
	switch tiff.TagValue_SampleFormatType(formats[0]) {
	case tiff.TagValue_SampleFormatType_Uint:
		l.format = UnsignedSamples
	case tiff.TagValue_SampleFormatType_TwoInt:
		l.format = SignedSamples
	case tiff.TagValue_SampleFormatType_Float:
		if l.depth < 32 {
			return l, errors.Wrapf(ErrUnsupported, "%d bit float samples", l.depth)
		}
		l.format = FloatSamples
	default:
		return l, errors.Wrapf(ErrUnsupported, "sample format %d", formats[0])
	}

	planar, _ := tags.GetPlanarConfiguration()
	l.planar = planar == 2

	if p, ok := tags.GetPredictor(); ok && p != tiff.TagValue_PredictorType_None {
		if p != tiff.TagValue_PredictorType_Horizontal || l.format == FloatSamples {
			return l, errors.Wrapf(ErrUnsupported, "predictor %d", p)
		}
		l.predictor = true
	}

	switch ifd.Compression() {
	case tiff.TagValue_CompressionType_Nil, tiff.TagValue_CompressionType_None,
		tiff.TagValue_CompressionType_LZW, tiff.TagValue_CompressionType_Deflate,
		tiff.TagValue_CompressionType_DeflateOld, tiff.TagValue_CompressionType_PackBits:
	default:
		return l, errors.Wrapf(ErrUnsupported, "compression %d", ifd.Compression())
	}

	return l, nil
}

// raw reads one sample's bits.
func (l sampleLayout) raw(b []byte) uint64 {
	switch l.depth {
	case 8:
		return uint64(b[0])
	case 16:
		return uint64(l.order.Uint16(b))
	case 32:
		return uint64(l.order.Uint32(b))
	default:
		return l.order.Uint64(b)
	}
}

func (l sampleLayout) value(u uint64) float32 {
	switch l.format {
	case SignedSamples:
		shift := uint(64 - l.depth)
		return float32(int64(u<<shift) >> shift)
	case FloatSamples:
		if l.depth == 32 {
			return math.Float32frombits(uint32(u))
		}
		return float32(math.Float64frombits(u))
	default:
		return float32(u)
	}
}

func (l sampleLayout) mask() uint64 {
	if l.depth == 64 {
		return math.MaxUint64
	}
	return 1<<uint(l.depth) - 1
}

// blockTable returns the file offsets and byte counts of every strip or tile.
func blockTable(ifd *tiff.IFD) (offsets, counts []int64) {
	tags := ifd.TagGetter()
	if _, ok := tags.GetTileWidth(); ok {
		offsets, _ = tags.GetTileOffsets()
		counts, _ = tags.GetTileByteCounts()
		return offsets, counts
	}
	offsets, _ = tags.GetStripOffsets()
	counts, _ = tags.GetStripByteCounts()
	return offsets, counts
}

// ReadRaster decodes the first image of a tiff stream without converting
// its samples.
func ReadRaster(rs io.ReadSeeker) (*Raster, error) {
	rd, err := tiff.OpenReader(rs)
	if err != nil {
		return nil, err
	}
	defer rd.Close()
	if len(rd.Ifd) == 0 || len(rd.Ifd[0]) == 0 || rd.Ifd[0][0] == nil {
		return nil, errors.New("no image directory")
	}
	ifd := rd.Ifd[0][0]

	l, err := readLayout(ifd)
	if err != nil {
		return nil, err
	}
	b := ifd.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 || l.bands == 0 {
		return nil, errors.Errorf("empty image %dx%d with %d bands", w, h, l.bands)
	}
	r := NewRaster(w, h, l.bands, l.format, l.depth)

	across, down := ifd.BlocksAcross(), ifd.BlocksDown()
	planes, spb := 1, l.bands
	if l.planar {
		planes, spb = l.bands, 1
	}
	offsets, counts := blockTable(ifd)
	if len(offsets) < planes*across*down || len(counts) < len(offsets) {
		return nil, errors.Errorf("%d blocks listed, %d needed", len(offsets), planes*across*down)
	}

	size := l.depth / 8
	bits := l.mask()
	prev := make([]uint64, spb)
	for plane := 0; plane < planes; plane++ {
		for row := 0; row < down; row++ {
			for col := 0; col < across; col++ {
				k := (plane*down+row)*across + col
				if _, err := rd.Reader.Seek(offsets[k], io.SeekStart); err != nil {
					return nil, err
				}
				bb := ifd.BlockBounds(col, row)
				data, err := ifd.Compression().Decode(io.LimitReader(rd.Reader, counts[k]), bb.Dx(), bb.Dy())
				if err != nil {
					return nil, errors.Wrapf(err, "block %d", k)
				}
				if len(data) < bb.Dx()*bb.Dy()*spb*size {
					return nil, errors.Errorf("block %d: %d bytes for %dx%d pixels", k, len(data), bb.Dx(), bb.Dy())
				}

				for y := 0; y < bb.Dy(); y++ {
					gy := bb.Min.Y + y
					if gy >= h {
						break
					}
					for x := 0; x < bb.Dx(); x++ {
						gx := bb.Min.X + x
						for s := 0; s < spb; s++ {
							u := l.raw(data[((y*bb.Dx()+x)*spb+s)*size:])
							if l.predictor && x > 0 {
								u = (u + prev[s]) & bits
							}
							prev[s] = u
							if gx < w {
								r.Planes[plane+s][gy*w+gx] = l.value(u)
							}
						}
					}
				}
			}
		}
	}

	return r, nil
}

// checkStdTIFF rejects tiff files the image.Image decoder would misread.
func checkStdTIFF(rs io.ReadSeeker) error {
	rd, err := tiff.OpenReader(rs)
	if err != nil {
		return err
	}
	defer rd.Close()
	if len(rd.Ifd) == 0 || len(rd.Ifd[0]) == 0 || rd.Ifd[0][0] == nil {
		return errors.New("no image directory")
	}
	ifd := rd.Ifd[0][0]

	if d := ifd.Depth(); d == 0 || d > 16 {
		return errors.Wrapf(ErrUnsupported, "%d bit samples, try the geotiff decoder", d)
	}
	formats, _ := ifd.TagGetter().GetSampleFormat()
	for _, f := range formats {
		if tiff.TagValue_SampleFormatType(f) != tiff.TagValue_SampleFormatType_Uint {
			return errors.Wrapf(ErrUnsupported, "sample format %d, try the geotiff decoder", f)
		}
	}
	return nil
}
