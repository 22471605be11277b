package connectors

import "fmt"

type phemexCode struct {
	name string
	// class is the sentinel the code is reported as, nil when it has none.
	class error
}

// phemexCodes lists the bizError codes the order paths can hit.
var phemexCodes = map[int]phemexCode{
	10002: {"OM_ORDER_NOT_FOUND", ErrOrderNotFound},
	10003: {"OM_ORDER_PENDING_CANCEL", ErrOrderNotFound},
	11002: {"TE_UNKNOWN_ERROR", nil},
	11003: {"TE_INVALID_ARGUMENT", nil},
	11005: {"TE_MAINTENANCE_MODE", nil},
	11011: {"TE_REDUCE_ONLY_ABORT", nil},
	11012: {"TE_REPLACE_TO_INVALID_QTY", nil},
	11013: {"TE_REPLACE_TO_INVALID_PRICE", nil},
	11014: {"TE_REPLACE_TO_INVALID_LEVERAGE", nil},
	11015: {"TE_PRICE_TOO_SMALL", nil},
	11016: {"TE_PRICE_TOO_LARGE", nil},
	11017: {"TE_QTY_TOO_SMALL", ErrBelowMinimum},
	11018: {"TE_QTY_TOO_LARGE", nil},
	11019: {"TE_VALUE_TOO_SMALL", ErrBelowMinimum},
	11020: {"TE_VALUE_TOO_LARGE", nil},
	11050: {"TE_RISK_LIMIT_EXCEEDED", nil},
	11051: {"TE_INSUFFICIENT_BALANCE", ErrInsufficientBalance},
	11052: {"TE_INSUFFICIENT_MARGIN", ErrInsufficientBalance},
	11062: {"TE_POSITION_NOT_EXIST", nil},
	11070: {"TE_MARKET_CLOSED", nil},
	11081: {"TE_CLIENT_ID_EXIST", nil},
	11100: {"TE_TOO_MANY_ORDERS", nil},
	11120: {"TE_CONTRACT_NOT_FOUND", nil},
}

// phemexError turns a bizError code into an error wrapping the matching
// gateway sentinel, so callers can use errors.Is.
func phemexError(code int, msg string) error {
	c, ok := phemexCodes[code]
	if !ok {
		c.name = fmt.Sprintf("UNKNOWN_PHEMEX_ERROR_%d", code)
	}
	err := fmt.Errorf("phemex error %d %s: %s", code, c.name, msg)
	if c.class != nil {
		return fmt.Errorf("%w: %v", c.class, err)
	}
	return err
}
