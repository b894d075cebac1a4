package storage

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
)

type fakeRow struct {
	pk, rk string
	props  map[string]any
}

// fakeTable is an in-memory tableClient. It understands the filters Tables
// builds, pages list results and applies transactions batch by batch.
type fakeTable struct {
	mu       sync.Mutex
	rows     []fakeRow
	pageSize int
	pages    int
	filters  []string
	selects  []string
	batches  [][]aztables.TransactionAction
	failTx   int
	failWith error
}

func newFakeTable() *fakeTable {
	return &fakeTable{pageSize: 1000, failTx: -1}
}

func statusError(status int) error {
	return &azcore.ResponseError{StatusCode: status}
}

func (f *fakeTable) put(entity any) {
	data, err := json.Marshal(entity)
	if err != nil {
		panic(err)
	}
	if _, err := f.AddEntity(context.Background(), data, nil); err != nil {
		panic(err)
	}
}

func (f *fakeTable) indexOf(pk, rk string) int {
	for i, r := range f.rows {
		if r.pk == pk && r.rk == rk {
			return i
		}
	}
	return -1
}

func (f *fakeTable) rowKeys(pk string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, r := range f.rows {
		if r.pk == pk {
			out = append(out, r.rk)
		}
	}
	return out
}

func (f *fakeTable) matches(filter string, r fakeRow) bool {
	switch filter {
	case partitionFilter(r.pk):
		return true
	case completedFilter(r.pk):
		done, _ := r.props["Completed"].(bool)
		return done
	}
	return false
}

func decodeRow(data []byte) (fakeRow, error) {
	var props map[string]any
	if err := json.Unmarshal(data, &props); err != nil {
		return fakeRow{}, err
	}
	pk, _ := props["PartitionKey"].(string)
	rk, _ := props["RowKey"].(string)
	return fakeRow{pk: pk, rk: rk, props: props}, nil
}

func (f *fakeTable) NewListEntitiesPager(o *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse] {
	f.mu.Lock()
	var filter, sel string
	if o != nil && o.Filter != nil {
		filter = *o.Filter
	}
	if o != nil && o.Select != nil {
		sel = *o.Select
	}
	f.filters = append(f.filters, filter)
	f.selects = append(f.selects, sel)
	var matched [][]byte
	for _, r := range f.rows {
		if !f.matches(filter, r) {
			continue
		}
		props := r.props
		if sel != "" {
			props = map[string]any{}
			for _, col := range strings.Split(sel, ",") {
				if v, ok := r.props[col]; ok {
					props[col] = v
				}
			}
		}
		data, _ := json.Marshal(props)
		matched = append(matched, data)
	}
	size := f.pageSize
	f.mu.Unlock()

	return runtime.NewPager(runtime.PagingHandler[aztables.ListEntitiesResponse]{
		More: func(page aztables.ListEntitiesResponse) bool {
			return page.NextRowKey != nil
		},
		Fetcher: func(ctx context.Context, prev *aztables.ListEntitiesResponse) (aztables.ListEntitiesResponse, error) {
			start := 0
			if prev != nil && prev.NextRowKey != nil {
				start, _ = strconv.Atoi(*prev.NextRowKey)
			}
			end := start + size
			if end > len(matched) {
				end = len(matched)
			}
			f.mu.Lock()
			f.pages++
			f.mu.Unlock()
			page := aztables.ListEntitiesResponse{Entities: matched[start:end]}
			if end < len(matched) {
				next := strconv.Itoa(end)
				page.NextRowKey = &next
			}
			return page, nil
		},
	})
}

func (f *fakeTable) GetEntity(ctx context.Context, pk, rk string, o *aztables.GetEntityOptions) (aztables.GetEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.indexOf(pk, rk)
	if i < 0 {
		return aztables.GetEntityResponse{}, statusError(http.StatusNotFound)
	}
	data, err := json.Marshal(f.rows[i].props)
	return aztables.GetEntityResponse{Value: data}, err
}

func (f *fakeTable) AddEntity(ctx context.Context, entity []byte, o *aztables.AddEntityOptions) (aztables.AddEntityResponse, error) {
	row, err := decodeRow(entity)
	if err != nil {
		return aztables.AddEntityResponse{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.indexOf(row.pk, row.rk) >= 0 {
		return aztables.AddEntityResponse{}, statusError(http.StatusConflict)
	}
	f.rows = append(f.rows, row)
	return aztables.AddEntityResponse{}, nil
}

func (f *fakeTable) UpdateEntity(ctx context.Context, entity []byte, o *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error) {
	if f.failWith != nil {
		return aztables.UpdateEntityResponse{}, f.failWith
	}
	row, err := decodeRow(entity)
	if err != nil {
		return aztables.UpdateEntityResponse{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.indexOf(row.pk, row.rk)
	if i < 0 {
		return aztables.UpdateEntityResponse{}, statusError(http.StatusNotFound)
	}
	if o == nil || o.UpdateMode != aztables.UpdateModeMerge {
		f.rows[i] = row
		return aztables.UpdateEntityResponse{}, nil
	}
	for k, v := range row.props {
		f.rows[i].props[k] = v
	}
	return aztables.UpdateEntityResponse{}, nil
}

func (f *fakeTable) DeleteEntity(ctx context.Context, pk, rk string, o *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error) {
	if f.failWith != nil {
		return aztables.DeleteEntityResponse{}, f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.indexOf(pk, rk)
	if i < 0 {
		return aztables.DeleteEntityResponse{}, statusError(http.StatusNotFound)
	}
	f.rows = append(f.rows[:i], f.rows[i+1:]...)
	return aztables.DeleteEntityResponse{}, nil
}

func (f *fakeTable) SubmitTransaction(ctx context.Context, actions []aztables.TransactionAction, o *aztables.SubmitTransactionOptions) (aztables.TransactionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := len(f.batches)
	f.batches = append(f.batches, actions)
	if idx == f.failTx {
		return aztables.TransactionResponse{}, errors.New("transaction rejected")
	}
	// all or nothing
	var targets []fakeRow
	for _, a := range actions {
		row, err := decodeRow(a.Entity)
		if err != nil {
			return aztables.TransactionResponse{}, err
		}
		if a.ActionType != aztables.TransactionTypeDelete || f.indexOf(row.pk, row.rk) < 0 {
			return aztables.TransactionResponse{}, statusError(http.StatusBadRequest)
		}
		targets = append(targets, row)
	}
	for _, row := range targets {
		i := f.indexOf(row.pk, row.rk)
		f.rows = append(f.rows[:i], f.rows[i+1:]...)
	}
	return aztables.TransactionResponse{}, nil
}
