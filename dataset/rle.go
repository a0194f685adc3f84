package dataset

import (
	"image"
	"io"
	"strconv"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/pkg/errors"
)

// ReadRLE reads run-length encoded masks from a CSV with a header row and
// returns the parsed runs keyed by the idCol value.
func ReadRLE(r io.Reader, idCol, encCol string) (map[string][]int, error) {
	df := dataframe.ReadCSV(r, dataframe.HasHeader(true), dataframe.DetectTypes(false))
	if df.Err != nil {
		return nil, errors.Wrap(df.Err, "reading RLE csv")
	}

	idSeries := df.Col(idCol)
	if idSeries.Err != nil {
		return nil, errors.Wrapf(idSeries.Err, "column %q", idCol)
	}
	encSeries := df.Col(encCol)
	if encSeries.Err != nil {
		return nil, errors.Wrapf(encSeries.Err, "column %q", encCol)
	}

	ids := idSeries.Records()
	encs := encSeries.Records()
	rleMap := make(map[string][]int, len(ids))
	for i, id := range ids {
		rle, err := ParseRLE(encs[i])
		if err != nil {
			return nil, errors.Wrapf(err, "id %q", id)
		}
		rleMap[id] = rle
	}

	return rleMap, nil
}

// ParseRLE parses "start length start length ...". Empty and NaN cells give
// an empty run list.
func ParseRLE(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "NaN" {
		return nil, nil
	}

	fields := strings.Fields(s)
	if len(fields)%2 != 0 {
		return nil, errors.Errorf("odd number of RLE values: %d", len(fields))
	}
	rle := make([]int, len(fields))
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, errors.Wrapf(err, "RLE value %d", i)
		}
		rle[i] = n
	}

	return rle, nil
}

// FormatRLE is the inverse of ParseRLE.
func FormatRLE(rle []int) string {
	parts := make([]string, len(rle))
	for i, n := range rle {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, " ")
}

// DecodeRLE paints runs onto a w x h mask with value class. Starts are 1
// based and pixels are numbered top to bottom, then left to right.
func DecodeRLE(rle []int, w, h int, class uint8) (*image.Gray, error) {
	if len(rle)%2 != 0 {
		return nil, errors.Errorf("odd number of RLE values: %d", len(rle))
	}
	mask := image.NewGray(image.Rect(0, 0, w, h))
	total := w * h

	for i := 0; i < len(rle); i += 2 {
		start, length := rle[i]-1, rle[i+1]
		if start < 0 || length < 0 || start+length > total {
			return nil, errors.Errorf("run %d (start %d, length %d) outside %dx%d mask", i/2, rle[i], length, w, h)
		}
		for p := start; p < start+length; p++ {
			// column major
			x, y := p/h, p%h
			mask.Pix[y*mask.Stride+x] = class
		}
	}

	return mask, nil
}

// EncodeRLE returns the runs of pixels equal to class in DecodeRLE order.
func EncodeRLE(mask *image.Gray, class uint8) []int {
	b := mask.Bounds()
	w, h := b.Dx(), b.Dy()

	var (
		rle   []int
		start = -1
	)
	for p := 0; p < w*h; p++ {
		x, y := p/h, p%h
		on := mask.GrayAt(b.Min.X+x, b.Min.Y+y).Y == class
		switch {
		case on && start < 0:
			start = p
		case !on && start >= 0:
			rle = append(rle, start+1, p-start)
			start = -1
		}
	}
	if start >= 0 {
		rle = append(rle, start+1, w*h-start)
	}

	return rle
}
