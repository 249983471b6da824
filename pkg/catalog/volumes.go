package catalog

import (
	"encoding/json"
	"errors"
	"fmt"

	"bookspace/pkg/domain"
)

// volumesResponse matches GET /volumes.
type volumesResponse struct {
	Kind       string       `json:"kind"`
	TotalItems int          `json:"totalItems"`
	Items      []volumeItem `json:"items"`
}

// volumeItem matches a single volume, both inside a list and from GET /volumes/{id}.
type volumeItem struct {
	Kind       string      `json:"kind"`
	ID         string      `json:"id"`
	Etag       string      `json:"etag"`
	SelfLink   string      `json:"selfLink"`
	VolumeInfo *volumeInfo `json:"volumeInfo"`
}

type volumeInfo struct {
	Title         *string     `json:"title"`
	Authors       []string    `json:"authors"`
	Description   string      `json:"description"`
	ImageLinks    *imageLinks `json:"imageLinks"`
	PublishedDate string      `json:"publishedDate"`
	PageCount     int         `json:"pageCount"`
}

type imageLinks struct {
	Thumbnail string `json:"thumbnail"`
}

func (it volumeItem) validate() error {
	if it.ID == "" {
		return errors.New("volume without id")
	}
	if it.VolumeInfo == nil {
		return fmt.Errorf("volume %s without volumeInfo", it.ID)
	}
	if it.VolumeInfo.Title == nil {
		return fmt.Errorf("volume %s without title", it.ID)
	}
	return nil
}

func (it volumeItem) toBook() domain.Book {
	info := it.VolumeInfo
	authors := info.Authors
	if authors == nil {
		authors = []string{}
	}
	b := domain.Book{
		ID:            it.ID,
		Title:         *info.Title,
		Authors:       authors,
		Description:   info.Description,
		PublishedDate: info.PublishedDate,
	}
	if info.ImageLinks != nil {
		b.ImageURL = info.ImageLinks.Thumbnail
	}
	return b
}

func decodeVolumes(body []byte) ([]domain.Book, error) {
	var resp volumesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	books := make([]domain.Book, 0, len(resp.Items))
	for _, item := range resp.Items {
		if err := item.validate(); err != nil {
			return nil, err
		}
		books = append(books, item.toBook())
	}
	return books, nil
}

func decodeVolume(body []byte) (domain.Book, error) {
	var item volumeItem
	if err := json.Unmarshal(body, &item); err != nil {
		return domain.Book{}, err
	}
	if err := item.validate(); err != nil {
		return domain.Book{}, err
	}
	return item.toBook(), nil
}
