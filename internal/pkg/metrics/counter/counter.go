package counter

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jkubiena/Weddinko/internal/pkg/cache"
	"github.com/jkubiena/Weddinko/internal/pkg/database"
)

// Affiliate rollup hashes. Field = affiliate id, value = pending increment.
// These are best-effort aggregates; the commission ledger stays the source of
// truth and the flushed columns must remain reconcilable by summing it.
const (
	affiliateClicksKey        = "affiliate:counters:clicks"
	affiliateRegistrationsKey = "affiliate:counters:registrations"
	affiliateConversionsKey   = "affiliate:counters:conversions"
	affiliateRevenueKey       = "affiliate:counters:revenue"
	affiliateCommissionKey    = "affiliate:counters:commission"
)

// AddClick increments the pending click counter for an affiliate in Redis
func AddClick(affiliateID uint) error {
	return incr(affiliateClicksKey, affiliateID, 1)
}

// AddRegistration increments the pending registration counter for an affiliate in Redis
func AddRegistration(affiliateID uint) error {
	return incr(affiliateRegistrationsKey, affiliateID, 1)
}

// AddConversion increments the pending conversion counter for an affiliate in Redis
func AddConversion(affiliateID uint) error {
	return incr(affiliateConversionsKey, affiliateID, 1)
}

// AddRevenue adds a confirmed payment amount to the pending revenue rollup
func AddRevenue(affiliateID uint, amount int64) error {
	return incr(affiliateRevenueKey, affiliateID, amount)
}

// AddCommission adds a commission amount to the pending commission rollup
func AddCommission(affiliateID uint, amount int64) error {
	return incr(affiliateCommissionKey, affiliateID, amount)
}

func incr(redisKey string, affiliateID uint, delta int64) error {
	ctx := context.Background()
	field := strconv.FormatUint(uint64(affiliateID), 10)
	return cache.GetClient().HIncrBy(ctx, redisKey, field, delta).Err()
}

// FlushAll flushes all pending affiliate rollups to the database
func FlushAll() error {
	flushes := []struct {
		key    string
		column string
	}{
		{affiliateClicksKey, "clicks"},
		{affiliateRegistrationsKey, "registrations"},
		{affiliateConversionsKey, "conversions"},
		{affiliateRevenueKey, "revenue_total"},
		{affiliateCommissionKey, "commission_total"},
	}
	for _, f := range flushes {
		if err := flushHashToTable(f.key, "affiliates", f.column); err != nil {
			return err
		}
	}
	return nil
}

// flushHashToTable drains a Redis hash atomically and applies batched increments to the affiliates table.
// Uses RENAME to a temporary key for atomic drain without losing in-flight increments.
func flushHashToTable(redisKey, table, column string) error {
	ctx := context.Background()
	rdb := cache.GetClient()

	// Atomically move the hash to a temp key for draining
	tmpKey := fmt.Sprintf("%s:tmp:%d", redisKey, time.Now().UnixNano())
	if err := rdb.Do(ctx, "RENAME", redisKey, tmpKey).Err(); err != nil {
		// If key does not exist, nothing to flush
		if strings.Contains(strings.ToLower(err.Error()), "no such key") {
			return nil
		}
		// Some Redis libs return redis.Nil; treat as empty
		if err.Error() == "redis: nil" {
			return nil
		}
		return err
	}

	// Ensure cleanup of tmpKey even if later steps fail
	defer rdb.Del(ctx, tmpKey)

	data, err := rdb.HGetAll(ctx, tmpKey).Result()
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	// Build batched UPDATE using CASE WHEN id THEN inc
	type pair struct {
		id  uint64
		inc int64
	}
	pairs := make([]pair, 0, len(data))
	for k, v := range data {
		id, perr := strconv.ParseUint(k, 10, 64)
		if perr != nil {
			continue
		}
		inc, ierr := strconv.ParseInt(v, 10, 64)
		if ierr != nil || inc == 0 {
			continue
		}
		pairs = append(pairs, pair{id: id, inc: inc})
	}
	if len(pairs) == 0 {
		return nil
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].id < pairs[j].id })

	// UPDATE affiliates SET <column> = <column> + CASE id WHEN ? THEN ? ... END WHERE id IN ( ... )
	var builder strings.Builder
	args := make([]interface{}, 0, len(pairs)*3)
	builder.WriteString("UPDATE ")
	builder.WriteString(table)
	builder.WriteString(" SET ")
	builder.WriteString(column)
	builder.WriteString(" = ")
	builder.WriteString(column)
	builder.WriteString(" + CASE id ")
	for _, p := range pairs {
		builder.WriteString(" WHEN ? THEN ?")
		args = append(args, p.id, p.inc)
	}
	builder.WriteString(" END WHERE id IN (")
	for i, p := range pairs {
		if i > 0 {
			builder.WriteString(",")
		}
		builder.WriteString("?")
		args = append(args, p.id)
	}
	builder.WriteString(")")

	db := database.GetDB()
	if err := db.Exec(builder.String(), args...).Error; err != nil {
		return err
	}
	return nil
}
