package game

import "fmt"

func addUint64Checked(a uint64, b uint64, field string) (uint64, error) {
	if a > ^uint64(0)-b {
		return 0, fmt.Errorf("%s overflows uint64", field)
	}
	return a + b, nil
}

func mulUint64Checked(a uint64, b uint64, field string) (uint64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	if a > ^uint64(0)/b {
		return 0, fmt.Errorf("%s overflows uint64", field)
	}
	return a * b, nil
}

func addInt64AndU64Checked(a int64, b uint64, field string) (int64, error) {
	if b > uint64(^uint64(0)>>1) {
		return 0, fmt.Errorf("%s overflows int64", field)
	}
	sum := a + int64(b)
	if sum < a {
		return 0, fmt.Errorf("%s overflows int64", field)
	}
	return sum, nil
}
