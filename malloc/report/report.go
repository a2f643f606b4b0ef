/*
 * Copyright 2025 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package report prints allocator state to a console.
//
// It only reads through Source: the stats aggregate, the block walk and the
// per-class free lists.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/cloudwego/buddy/malloc/buddy"
)

// Source is the read side of an allocator. Both *buddy.Allocator and
// *buddy.Locked implement it.
type Source interface {
	MinSize() int
	MaxSize() int
	Stats() buddy.Stats
	Walk(fn func(buddy.Block) bool)
	FreeList(size int) []buddy.Block
}

// Reporter writes human readable reports to w.
type Reporter struct {
	w    io.Writer
	unit string

	title lipgloss.Style
	cell  lipgloss.Style
	head  lipgloss.Style
}

// New returns a Reporter writing to w. unit is appended to sizes, e.g. "KB"; it may be empty.
func New(w io.Writer, unit string) *Reporter {
	re := lipgloss.NewRenderer(w)
	return &Reporter{
		w:     w,
		unit:  unit,
		title: re.NewStyle().Bold(true),
		cell:  re.NewStyle().Padding(0, 1),
		head:  re.NewStyle().Padding(0, 1).Bold(true),
	}
}

func (r *Reporter) size(n int) string {
	if r.unit == "" {
		return strconv.Itoa(n)
	}
	return strconv.Itoa(n) + " " + r.unit
}

func (r *Reporter) heading(s string) error {
	_, err := fmt.Fprintf(r.w, "\n%s\n", r.title.Render("===== "+s+" ====="))
	return err
}

// FreeLists prints the number of free blocks of every size class.
func (r *Reporter) FreeLists(s Source) error {
	if err := r.heading("FREE LISTS"); err != nil {
		return err
	}
	for size := s.MinSize(); size <= s.MaxSize(); size <<= 1 {
		if _, err := fmt.Fprintf(r.w, "%9s : %d block(s)\n", r.size(size), len(s.FreeList(size))); err != nil {
			return err
		}
	}
	return nil
}

// Blocks prints every block in address order.
func (r *Reporter) Blocks(s Source) error {
	if err := r.heading("ALL BLOCKS"); err != nil {
		return err
	}
	var rows [][]string
	s.Walk(func(b buddy.Block) bool {
		state, id := "FREE", "-"
		if !b.Free {
			state, id = "USED", strconv.FormatUint(b.ID, 10)
		}
		rows = append(rows, []string{strconv.Itoa(b.Address), strconv.Itoa(b.Size), state, id})
		return true
	})
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("Addr", "Size", "State", "ID").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return r.head
			}
			return r.cell
		})
	_, err := fmt.Fprintln(r.w, t.String())
	return err
}

// Stats prints the usage counters.
func (r *Reporter) Stats(st buddy.Stats) error {
	if err := r.heading("STATISTICS"); err != nil {
		return err
	}
	_, err := fmt.Fprintf(r.w,
		"Total Memory : %s\nUsed Memory  : %s\nFree Memory  : %s\nUtilization  : %.2f %%\nFragmentation: %s internal, largest free %s\n",
		r.size(st.TotalBytes), r.size(st.UsedBytes), r.size(st.FreeBytes), st.UtilizationPercent,
		r.size(st.InternalFragmentation), r.size(st.LargestFree))
	return err
}

// All prints free lists, blocks and stats.
func (r *Reporter) All(s Source) error {
	if err := r.FreeLists(s); err != nil {
		return err
	}
	if err := r.Blocks(s); err != nil {
		return err
	}
	return r.Stats(s.Stats())
}

// Summary is the machine readable form of a report.
type Summary struct {
	MaxSize int           `json:"max_size"`
	MinSize int           `json:"min_size"`
	Stats   buddy.Stats   `json:"stats"`
	Blocks  []buddy.Block `json:"blocks"`
}

// Summarize collects a Summary from s.
func Summarize(s Source) Summary {
	sum := Summary{
		MaxSize: s.MaxSize(),
		MinSize: s.MinSize(),
		Stats:   s.Stats(),
	}
	s.Walk(func(b buddy.Block) bool {
		sum.Blocks = append(sum.Blocks, b)
		return true
	})
	return sum
}

// WriteJSON writes the Summary of s as indented JSON.
func WriteJSON(w io.Writer, s Source) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(Summarize(s))
}
