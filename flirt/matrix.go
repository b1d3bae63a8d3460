package flirt

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/carbocation/pfx"
	"gonum.org/v1/gonum/mat"
)

// ReadMatrix parses a FLIRT .mat file: sixteen whitespace separated numbers,
// row major.
func ReadMatrix(path string) (*mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, pfx.Err(err)
	}
	defer f.Close()

	vals := make([]float64, 0, 16)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		for _, field := range strings.Fields(scanner.Text()) {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, pfx.Err(fmt.Errorf("%s: %w", path, err))
			}
			vals = append(vals, v)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, pfx.Err(err)
	}

	if len(vals) != 16 {
		return nil, pfx.Err(fmt.Errorf("%s: expected 16 values in a 4x4 matrix, found %d", path, len(vals)))
	}

	return mat.NewDense(4, 4, vals), nil
}

// WriteMatrix stores m in the FLIRT .mat text layout.
func WriteMatrix(path string, m mat.Matrix) error {
	r, c := m.Dims()
	if r != 4 || c != 4 {
		return fmt.Errorf("expected a 4x4 matrix, got %dx%d", r, c)
	}

	var sb strings.Builder
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			fmt.Fprintf(&sb, "%g  ", m.At(i, j))
		}
		sb.WriteString("\n")
	}

	return pfx.Err(os.WriteFile(path, []byte(sb.String()), 0644))
}

// DegenerateTolerance is the smallest |det| of a transform not reported as
// degenerate. An affine shrinking each axis to 1% of its length has det 1e-6.
const DegenerateTolerance = 1e-6

// Degenerate reports whether an affine (nearly) collapses space. The
// determinant is taken over the full 4x4, which for an affine with bottom row
// 0 0 0 1 equals that of its 3x3 linear part.
func Degenerate(m mat.Matrix) bool {
	return math.Abs(mat.Det(m)) < DegenerateTolerance
}

// FormatMatrix renders m one row per line for logging.
func FormatMatrix(m mat.Matrix) string {
	return fmt.Sprintf("%.4g", mat.Formatted(m, mat.Squeeze()))
}
