package port

import (
	"golang.org/x/sys/cpu"
)

// mix2 sums two sample slices into dst. The kernel is swapped once at
// startup by SelectKernel; the default is the straight loop.
var mix2 = mix2Generic

func mix2Generic(dst, a, b []float32, n int) {
	for i := 0; i < n; i++ {
		dst[i] = a[i] + b[i]
	}
}

// mix2Unrolled processes four lanes per step, letting the compiler keep the
// adds in vector registers on targets with wide FP units.
func mix2Unrolled(dst, a, b []float32, n int) {
	i := 0
	for ; i+4 <= n; i += 4 {
		d := dst[i : i+4 : i+4]
		x := a[i : i+4 : i+4]
		y := b[i : i+4 : i+4]
		d[0] = x[0] + y[0]
		d[1] = x[1] + y[1]
		d[2] = x[2] + y[2]
		d[3] = x[3] + y[3]
	}
	for ; i < n; i++ {
		dst[i] = a[i] + b[i]
	}
}

// SelectKernel picks the sum kernel for the detected CPU. Called once from
// the library init entry point; calling it again is harmless.
func SelectKernel() {
	if cpu.X86.HasSSE2 || cpu.ARM64.HasASIMD {
		mix2 = mix2Unrolled
	}
}

// Mix2 sums a and b into dst over n samples.
func Mix2(dst, a, b []float32, n int) {
	mix2(dst, a, b, n)
}
