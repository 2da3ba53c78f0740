package exchange

import (
	"github.com/holiman/uint256"
)

// NativeDecimals is the decimal scale of the native currency.
const NativeDecimals = 18

// TokensOut converts amountIn native units into asset units at the
// normalized price. For an 18-decimal asset this is amountIn*price/10^18;
// other asset scales shift the divisor so the result is expressed in the
// asset's own units. The product is computed in 512 bits and floored.
func TokensOut(amountIn, price *uint256.Int, assetDecimals uint8) (*uint256.Int, error) {
	if amountIn == nil || price == nil {
		return new(uint256.Int), nil
	}
	scale := uint8(NativeDecimals + PriceDecimals)
	if assetDecimals <= scale {
		divisor, err := pow10(scale - assetDecimals)
		if err != nil {
			return nil, err
		}
		out, overflow := new(uint256.Int).MulDivOverflow(amountIn, price, divisor)
		if overflow {
			return nil, ErrConversionOverflow
		}
		return out, nil
	}
	factor, err := pow10(assetDecimals - scale)
	if err != nil {
		return nil, err
	}
	product, overflow := new(uint256.Int).MulOverflow(amountIn, price)
	if overflow {
		return nil, ErrConversionOverflow
	}
	out, overflow := new(uint256.Int).MulOverflow(product, factor)
	if overflow {
		return nil, ErrConversionOverflow
	}
	return out, nil
}
