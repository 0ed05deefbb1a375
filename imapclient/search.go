package imapclient

import (
	"context"

	"github.com/mailpulse/mailpulse"
)

// Search searches folder and keeps the result for FetchPage. UIDs are
// ordered newest first.
//
// Structured criteria are validated before anything is sent. A nil criteria
// matches every message.
func (c *Client) Search(ctx context.Context, folder string, criteria mailpulse.Criteria) (*mailpulse.SearchResult, error) {
	if err := mailpulse.ValidateFolderName(folder); err != nil {
		return nil, err
	}
	if sc, ok := criteria.(*mailpulse.SearchCriteria); ok && sc != nil {
		if err := sc.Validate(); err != nil {
			return nil, err
		}
	}
	query := mailpulse.BuildSearchQuery(criteria)

	var result *mailpulse.SearchResult
	err := c.interrupt(ctx, "SEARCH", func() error {
		name, err := c.folderName(folder)
		if err != nil {
			return err
		}
		uids, err := c.searchFolder(name, query)
		if err != nil {
			return err
		}
		result = &mailpulse.SearchResult{Folder: name, UIDs: uids, Query: query}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.mutex.Lock()
	c.search = result
	c.mutex.Unlock()

	c.logger.Debug().Str("folder", result.Folder).Str("query", query).Int("count", result.Count()).Msg("search")
	return result, nil
}

// SearchResult returns the result of the last successful search, or nil.
func (c *Client) SearchResult() *mailpulse.SearchResult {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.search == nil {
		return nil
	}
	result := *c.search
	result.UIDs = append([]uint32(nil), c.search.UIDs...)
	return &result
}

// searchFolder examines folder and returns the UIDs matching query, newest
// first. The caller must hold the gate.
func (c *Client) searchFolder(folder, query string) ([]uint32, error) {
	if _, err := c.selectFolder(folder, true); err != nil {
		return nil, err
	}
	uids, err := c.uidSearch(query)
	if err != nil {
		return nil, withContext(err, folder, "")
	}
	sortDesc(uids)
	return uids, nil
}
