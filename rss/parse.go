// Copyright (c) 2024 The Fetchd Authors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package rss

import (
	"encoding/xml"
	"strconv"
	"strings"
)

// Item is one feed entry, normalized across RSS 2.0 and Atom.
type Item struct {
	Title string
	Link  string
	// enclosure size in bytes, 0 when the feed doesn't say
	Size int64
}

// rssDocument covers the RSS 2.0 shape
type rssDocument struct {
	XMLName xml.Name   `xml:"rss"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title string    `xml:"title"`
	Items []rssItem `xml:"item"`
}

type rssItem struct {
	Title     string       `xml:"title"`
	Link      string       `xml:"link"`
	GUID      string       `xml:"guid"`
	Enclosure rssEnclosure `xml:"enclosure"`
}

type rssEnclosure struct {
	URL    string `xml:"url,attr"`
	Length string `xml:"length,attr"`
}

// atomDocument covers the Atom shape
type atomDocument struct {
	XMLName xml.Name    `xml:"feed"`
	Title   string      `xml:"title"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	Title string     `xml:"title"`
	Links []atomLink `xml:"link"`
	Id    string     `xml:"id"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
}

// parseFeed decodes a feed body into items, newest first (the order feeds
// publish them in).
func parseFeed(link string, body []byte) ([]Item, error) {
	trimmed := strings.TrimSpace(string(body))
	if strings.Contains(trimmed, "<rss") {
		var doc rssDocument
		if err := xml.Unmarshal(body, &doc); err != nil {
			return nil, InvalidFeedError{Link: link, Reason: err.Error()}
		}
		items := make([]Item, 0, len(doc.Channel.Items))
		for _, entry := range doc.Channel.Items {
			item := Item{Title: entry.Title, Link: entry.Link}
			if item.Link == "" {
				item.Link = entry.Enclosure.URL
			}
			if item.Link == "" {
				item.Link = entry.GUID
			}
			if entry.Enclosure.Length != "" {
				item.Size, _ = strconv.ParseInt(entry.Enclosure.Length, 10, 64)
			}
			items = append(items, item)
		}
		if len(items) == 0 {
			return nil, InvalidFeedError{Link: link, Reason: "the feed has no items"}
		}
		return items, nil
	}

	var doc atomDocument
	if err := xml.Unmarshal(body, &doc); err != nil || len(doc.Entries) == 0 {
		reason := "the document is neither RSS nor Atom"
		if err != nil {
			reason = err.Error()
		}
		return nil, InvalidFeedError{Link: link, Reason: reason}
	}
	items := make([]Item, 0, len(doc.Entries))
	for _, entry := range doc.Entries {
		item := Item{Title: entry.Title}
		for _, l := range entry.Links {
			if l.Rel == "" || l.Rel == "alternate" || l.Rel == "enclosure" {
				item.Link = l.Href
				break
			}
		}
		if item.Link == "" {
			item.Link = entry.Id
		}
		items = append(items, item)
	}
	return items, nil
}
