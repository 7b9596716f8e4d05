package mathx_test

import (
	"fmt"
	"testing"

	"github.com/op13/liquidplan/mathx"
)

func ExampleCeilTo() {
	fmt.Println(mathx.CeilTo(245, 10), mathx.CeilTo(250, 10), mathx.CeilTo(1, 10))
	// Output: 250 250 10
}

func ExampleFloorDiv() {
	fmt.Println(mathx.FloorDiv(245, 2), mathx.FloorDiv(240, 2.5), mathx.FloorDiv(80, 1))
	// Output: 122 96 80
}

func TestCeilToZeroUnitPassesThrough(t *testing.T) {
	in := 12.34
	if out := mathx.CeilTo(in, 0); out != in {
		t.Errorf("expected %f to pass through unchanged, got %f", in, out)
	}
}
