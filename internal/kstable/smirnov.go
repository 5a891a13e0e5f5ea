package kstable

import "math"

// ksPlusbarAsymp approximates the one-sided KS+ survival probability using
// the asymptotic formula valid for very large n, where the exact sum in
// ksPlusbarUpper would cost too many terms.
func ksPlusbarAsymp(n int, x float64) float64 {
	t := 6.0*float64(n)*x + 1
	z := t * t / (18.0 * float64(n))
	v := 1.0 - (2.0*z*z-4.0*z-1.0)/(18.0*float64(n))
	if v <= 0.0 {
		return 0.0
	}
	v *= math.Exp(-z)
	if v >= 1.0 {
		return 1.0
	}
	return v
}

// ksPlusbarUpper computes the one-sided KS+ survival probability in the
// upper tail via Smirnov's stable formula: a sum of terms built from log
// binomial coefficients, walked outward from the peak term in both
// directions and truncated once a term no longer moves the running sum.
func ksPlusbarUpper(n int, x float64) float64 {
	const epsilon = 1.0e-12

	if n > 200000 {
		return ksPlusbarAsymp(n, x)
	}

	jmax := int(float64(n) * (1.0 - x))
	if 1.0-x-float64(jmax)/float64(n) <= 0.0 {
		jmax--
	}

	jdiv := 3
	if n > 3000 {
		jdiv = 2
	}

	sum := 0.0
	j := jmax/jdiv + 1
	logCom := getLogFactorial(n) - getLogFactorial(j) - getLogFactorial(n-j)
	logJmax := logCom

	for j <= jmax {
		q := float64(j)/float64(n) + x
		term := logCom + float64(j-1)*math.Log(q) + float64(n-j)*math.Log1p(-q)
		t := math.Exp(term)
		sum += t
		logCom += math.Log(float64(n-j) / float64(j+1))
		if t <= sum*epsilon {
			break
		}
		j++
	}

	j = jmax / jdiv
	logCom = logJmax + math.Log(float64(j+1)/float64(n-j))

	for j > 0 {
		q := float64(j)/float64(n) + x
		term := logCom + float64(j-1)*math.Log(q) + float64(n-j)*math.Log1p(-q)
		t := math.Exp(term)
		sum += t
		logCom += math.Log(float64(j) / float64(n-j+1))
		if t <= sum*epsilon {
			break
		}
		j--
	}

	sum *= x
	sum += math.Exp(float64(n) * math.Log1p(-x))
	return sum
}
