package engine

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/quotewing/quotewing/models"
	"github.com/quotewing/quotewing/pkg/logger"
	"github.com/quotewing/quotewing/services/driver"
)

// Resolve 按顺序尝试定位器的候选查询，返回第一个匹配的元素。
// 匹配后立即返回，不再评估后面的候选；本身不做重试。
func Resolve(ctx context.Context, drv driver.Driver, loc models.Locator, timeout time.Duration) (driver.Element, models.Query, error) {
	if loc.IsZero() {
		return nil, models.Query{}, classify(ErrLocatorNotFound, nil, "locator has no candidates")
	}

	var lastErr error
	for i, q := range loc.Queries() {
		if err := ctx.Err(); err != nil {
			return nil, models.Query{}, cancelled(ctx, "resolve "+loc.Name())
		}

		el, err := drv.Find(ctx, q, timeout)
		if err == nil {
			if i > 0 {
				logger.Debug(ctx, "Locator %s matched fallback candidate %d: %s", loc.Name(), i+1, q)
			}
			return el, q, nil
		}
		if ctx.Err() != nil {
			return nil, models.Query{}, cancelled(ctx, "resolve "+loc.Name())
		}
		if !errors.Is(err, driver.ErrElementAbsent) {
			logger.Debug(ctx, "Candidate %s for %s failed: %v", q, loc.Name(), err)
		}
		lastErr = err
	}

	return nil, models.Query{}, classify(ErrLocatorNotFound, lastErr, "%s: none of %d candidates matched", loc.Name(), loc.Len())
}
