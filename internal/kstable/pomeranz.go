package kstable

import "math"

// calcFloorCeil precomputes the A_i breakpoints and their rounded-down and
// rounded-up neighbors (floor(A_i-t), ceil(A_i+t)) that bound the inner sums
// of the Pomeranz recursion, following the case split on the fractional
// part of t = n*x.
func calcFloorCeil(n int, t float64, a, atFlo, atCei []float64) {
	ell := int(t)
	z := t - float64(ell)
	w := math.Ceil(t) - t

	switch {
	case z > 0.5:
		for i := 2; i <= 2*n+2; i += 2 {
			atFlo[i] = float64(i/2 - 2 - ell)
		}
		for i := 1; i <= 2*n+2; i += 2 {
			atFlo[i] = float64(i/2 - 1 - ell)
		}
		for i := 2; i <= 2*n+2; i += 2 {
			atCei[i] = float64(i/2 + ell)
		}
		for i := 1; i <= 2*n+2; i += 2 {
			atCei[i] = float64(i/2 + 1 + ell)
		}
	case z > 0.0:
		for i := 1; i <= 2*n+2; i++ {
			atFlo[i] = float64(i/2 - 1 - ell)
		}
		for i := 2; i <= 2*n+2; i++ {
			atCei[i] = float64(i/2 + ell)
		}
		atCei[1] = float64(1 + ell)
	default: // z == 0
		for i := 2; i <= 2*n+2; i += 2 {
			atFlo[i] = float64(i/2 - 1 - ell)
		}
		for i := 1; i <= 2*n+2; i += 2 {
			atFlo[i] = float64(i/2 - ell)
		}
		for i := 2; i <= 2*n+2; i += 2 {
			atCei[i] = float64(i/2 - 1 + ell)
		}
		for i := 1; i <= 2*n+2; i += 2 {
			atCei[i] = float64(i/2 + ell)
		}
	}

	if w < z {
		z = w
	}
	a[0], a[1] = 0, 0
	a[2] = z
	a[3] = 1 - a[2]
	for i := 4; i <= 2*n+1; i++ {
		a[i] = a[i-2] + 1
	}
	a[2*n+2] = float64(n)
}

// pomeranz computes KScdf(n, x) for the moderate-w regime (0.754693 <= w <
// 4 in the exact branch) via the Pomeranz recursion: a forward sweep over
// 2n+2 breakpoints convolving a running vector V with precomputed
// per-segment kernels H, renormalizing whenever the running sum threatens
// to underflow.
func pomeranz(n int, x float64) float64 {
	const eps = 1.0e-15
	const eno = 350
	reno := math.Ldexp(1.0, eno)

	t := float64(n) * x
	size := 2*n + 3

	a := make([]float64, size)
	atFlo := make([]float64, size)
	atCei := make([]float64, size)
	calcFloorCeil(n, t, a, atFlo, atCei)

	v := [2][]float64{make([]float64, n+2), make([]float64, n+2)}
	h := [4][]float64{make([]float64, n+2), make([]float64, n+2), make([]float64, n+2), make([]float64, n+2)}

	v[1][1] = reno
	coreno := 1

	h[0][0] = 1
	w := 2.0 * a[2] / float64(n)
	for j := 1; j <= n+1; j++ {
		h[0][j] = w * h[0][j-1] / float64(j)
	}

	h[1][0] = 1
	w = (1.0 - 2.0*a[2]) / float64(n)
	for j := 1; j <= n+1; j++ {
		h[1][j] = w * h[1][j-1] / float64(j)
	}

	h[2][0] = 1
	w = a[2] / float64(n)
	for j := 1; j <= n+1; j++ {
		h[2][j] = w * h[2][j-1] / float64(j)
	}

	h[3][0] = 1
	for j := 1; j <= n+1; j++ {
		h[3][j] = 0
	}

	r1, r2 := 0, 1
	var sum float64
	for i := 2; i <= 2*n+2; i++ {
		jlow := 2 + int(atFlo[i])
		if jlow < 1 {
			jlow = 1
		}
		jup := int(atCei[i])
		if jup > n+1 {
			jup = n + 1
		}

		klow := 2 + int(atFlo[i-1])
		if klow < 1 {
			klow = 1
		}
		kup0 := int(atCei[i-1])

		w = (a[i] - a[i-1]) / float64(n)
		s := -1
		for j := 0; j < 4; j++ {
			if math.Abs(w-h[j][1]) <= eps {
				s = j
				break
			}
		}

		minsum := reno
		r1 = (r1 + 1) & 1
		r2 = (r2 + 1) & 1

		for j := jlow; j <= jup; j++ {
			kup := kup0
			if kup > j {
				kup = j
			}
			sum = 0
			for k := kup; k >= klow; k-- {
				sum += v[r1][k] * h[s][j-k]
			}
			v[r2][j] = sum
			if sum < minsum {
				minsum = sum
			}
		}

		if minsum < 1.0e-280 {
			for j := jlow; j <= jup; j++ {
				v[r2][j] *= reno
			}
			coreno++
		}
	}

	sum = v[r2][n+1]
	w = getLogFactorial(n) - float64(coreno)*eno*math.Ln2 + math.Log(sum)
	if w >= 0.0 {
		return 1.0
	}
	return math.Exp(w)
}
