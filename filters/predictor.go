package filters

import (
	"errors"

	"github.com/hashbaker/pdfhash/ir/raw"
)

// applyPredictor undoes the /Predictor transform described by a stream's
// /DecodeParms. Cross-reference streams almost always use PNG Up (12).
func applyPredictor(data []byte, params raw.Dictionary) ([]byte, error) {
	if params == nil {
		return data, nil
	}
	predictor := int64(1)
	if v, ok := raw.DictInt(params, "Predictor"); ok {
		predictor = v
	}
	if predictor <= 1 {
		return data, nil
	}
	colors := int64(1)
	if v, ok := raw.DictInt(params, "Colors"); ok && v > 0 {
		colors = v
	}
	bpc := int64(8)
	if v, ok := raw.DictInt(params, "BitsPerComponent"); ok && v > 0 {
		bpc = v
	}
	columns := int64(1)
	if v, ok := raw.DictInt(params, "Columns"); ok && v > 0 {
		columns = v
	}
	bpp := int((colors*bpc + 7) / 8)            // bytes per pixel
	rowLen := int((colors*bpc*columns + 7) / 8) // bytes per row, without filter byte
	if bpp <= 0 || rowLen <= 0 {
		return nil, errors.New("invalid predictor parameters")
	}

	if predictor == 2 {
		return applyTIFFPredictor(data, bpp, rowLen)
	}
	return applyPNGPredictor(data, bpp, rowLen)
}

func applyTIFFPredictor(data []byte, bpp, rowLen int) ([]byte, error) {
	if len(data)%rowLen != 0 {
		return nil, errors.New("tiff predictor: data not a whole number of rows")
	}
	out := append([]byte(nil), data...)
	for row := 0; row < len(out); row += rowLen {
		for i := bpp; i < rowLen; i++ {
			out[row+i] += out[row+i-bpp]
		}
	}
	return out, nil
}

func applyPNGPredictor(data []byte, bpp, rowLen int) ([]byte, error) {
	stride := rowLen + 1 // filter byte precedes each row
	if len(data)%stride != 0 {
		return nil, errors.New("png predictor: data not a whole number of rows")
	}
	rows := len(data) / stride
	out := make([]byte, 0, rows*rowLen)
	prev := make([]byte, rowLen)
	cur := make([]byte, rowLen)
	for r := 0; r < rows; r++ {
		ft := data[r*stride]
		copy(cur, data[r*stride+1:(r+1)*stride])
		switch ft {
		case 0: // None
		case 1: // Sub
			for i := bpp; i < rowLen; i++ {
				cur[i] += cur[i-bpp]
			}
		case 2: // Up
			for i := 0; i < rowLen; i++ {
				cur[i] += prev[i]
			}
		case 3: // Average
			for i := 0; i < rowLen; i++ {
				var left byte
				if i >= bpp {
					left = cur[i-bpp]
				}
				cur[i] += byte((int(left) + int(prev[i])) / 2)
			}
		case 4: // Paeth
			for i := 0; i < rowLen; i++ {
				var left, upLeft byte
				if i >= bpp {
					left = cur[i-bpp]
					upLeft = prev[i-bpp]
				}
				cur[i] += paeth(left, prev[i], upLeft)
			}
		default:
			return nil, errors.New("png predictor: unknown filter type")
		}
		out = append(out, cur...)
		copy(prev, cur)
	}
	return out, nil
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := abs(p-int(a)), abs(p-int(b)), abs(p-int(c))
	if pa <= pb && pa <= pc {
		return a
	}
	if pb <= pc {
		return b
	}
	return c
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
