// Package analyze renders an offline HTML report from a merged
// comment CSV. The report is a single self-contained page with
// distribution charts for gender, user level, IP region, hourly
// activity and the most active commenters.
package analyze

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"bilicrawl/pkg/errors"
	"bilicrawl/pkg/logger"
	"bilicrawl/pkg/storage"
)

const (
	// topRegions caps the IP region pie at the most frequent regions.
	topRegions = 25
	// topCommenters caps the active-commenter bar chart.
	topCommenters = 15

	timeLayout = "2006-01-02 15:04:05"
)

// Row is one cleaned comment row loaded from a merged CSV.
type Row struct {
	Nickname string
	Gender   string
	Time     time.Time
	Likes    int64
	Location string
	Level    int
	UID      string
}

// Analyzer loads comment CSVs and renders chart reports.
type Analyzer struct {
	logger logger.Logger
}

// New returns an Analyzer logging through log.
func New(log logger.Logger) *Analyzer {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Analyzer{logger: log}
}

// Load reads a comment CSV produced by the storage package and
// returns its cleaned rows. Rows with an empty uid, an unparseable
// timestamp or a level outside 0-6 are dropped, and gender values
// other than 男/女 are normalized to 保密.
func (a *Analyzer) Load(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.New(errors.ErrorTypeConfig, 0, "opening comment CSV %s: %v", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var (
		rows    []Row
		dropped int
		first   = true
	)
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.New(errors.ErrorTypeParsing, 0, "reading comment CSV %s: %v", path, err)
		}
		if first {
			first = false
			record[0] = strings.TrimPrefix(record[0], "\xEF\xBB\xBF")
			if record[0] == storage.Headers[0] {
				continue
			}
		}
		row, ok := parseRow(record)
		if !ok {
			dropped++
			continue
		}
		rows = append(rows, row)
	}

	a.logger.InfoWithFields("comment CSV loaded", map[string]interface{}{
		"path":    path,
		"rows":    len(rows),
		"dropped": dropped,
	})
	if len(rows) == 0 {
		return nil, errors.New(errors.ErrorTypeParsing, 0, "no usable rows in %s", path)
	}
	return rows, nil
}

func parseRow(record []string) (Row, bool) {
	if len(record) < len(storage.Headers) {
		return Row{}, false
	}
	uid := unwrapID(record[7])
	if uid == "" || uid == "0" {
		return Row{}, false
	}
	ts, err := time.Parse(timeLayout, record[2])
	if err != nil {
		return Row{}, false
	}
	level, err := strconv.Atoi(record[6])
	if err != nil || level < 0 || level > 6 {
		return Row{}, false
	}
	likes, _ := strconv.ParseInt(record[3], 10, 64)

	gender := record[1]
	if gender != "男" && gender != "女" {
		gender = "保密"
	}
	return Row{
		Nickname: record[0],
		Gender:   gender,
		Time:     ts,
		Likes:    likes,
		Location: record[5],
		Level:    level,
		UID:      uid,
	}, true
}

// unwrapID strips the ="..." guard the CSV writer uses to keep long
// numeric ids text-typed in spreadsheet tools.
func unwrapID(s string) string {
	if strings.HasPrefix(s, `="`) && strings.HasSuffix(s, `"`) {
		return s[2 : len(s)-1]
	}
	return s
}

// Report renders the chart page for rows to w.
func (a *Analyzer) Report(rows []Row, title string, w io.Writer) error {
	page := components.NewPage()
	page.PageTitle = title
	page.AddCharts(
		genderPie(rows),
		levelPie(rows),
		regionPie(rows),
		hourlyLine(rows),
		commenterBar(rows),
	)
	if err := page.Render(w); err != nil {
		return errors.New(errors.ErrorTypeUnknown, 0, "rendering report: %v", err)
	}
	return nil
}

// WriteReport loads the CSV at csvPath and writes the HTML report to
// htmlPath.
func (a *Analyzer) WriteReport(csvPath, htmlPath string) error {
	rows, err := a.Load(csvPath)
	if err != nil {
		return err
	}
	f, err := os.Create(htmlPath)
	if err != nil {
		return errors.New(errors.ErrorTypeConfig, 0, "creating report %s: %v", htmlPath, err)
	}
	defer f.Close()

	if err := a.Report(rows, csvPath, f); err != nil {
		return err
	}
	a.logger.InfoWithFields("report written", map[string]interface{}{
		"csv":  csvPath,
		"html": htmlPath,
		"rows": len(rows),
	})
	return nil
}

func genderPie(rows []Row) *charts.Pie {
	counts := make(map[string]int)
	for _, r := range rows {
		counts[r.Gender]++
	}
	pie := charts.NewPie()
	pie.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "性别分布"}),
		charts.WithInitializationOpts(opts.Initialization{Theme: types.ThemeWesteros}),
	)
	pie.AddSeries("评论数", pieItems(counts, 0))
	return pie
}

func levelPie(rows []Row) *charts.Pie {
	counts := make(map[string]int)
	for _, r := range rows {
		counts[fmt.Sprintf("LV%d", r.Level)]++
	}
	pie := charts.NewPie()
	pie.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "等级分布 (LV0-LV6)"}),
		charts.WithInitializationOpts(opts.Initialization{Theme: types.ThemeWesteros}),
	)
	pie.AddSeries("评论数", pieItems(counts, 0))
	return pie
}

func regionPie(rows []Row) *charts.Pie {
	counts := make(map[string]int)
	for _, r := range rows {
		counts[r.Location]++
	}
	pie := charts.NewPie()
	pie.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: fmt.Sprintf("IP属地分布 (前%d)", topRegions)}),
		charts.WithInitializationOpts(opts.Initialization{Theme: types.ThemeWesteros}),
	)
	pie.AddSeries("评论数", pieItems(counts, topRegions))
	return pie
}

func hourlyLine(rows []Row) *charts.Line {
	counts := make(map[string]int)
	for _, r := range rows {
		counts[r.Time.Format("2006-01-02 15:00")]++
	}
	hours := make([]string, 0, len(counts))
	for h := range counts {
		hours = append(hours, h)
	}
	sort.Strings(hours)

	var data []opts.LineData
	for _, h := range hours {
		data = append(data, opts.LineData{Value: counts[h]})
	}
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "发言人数 (按小时)"}),
		charts.WithInitializationOpts(opts.Initialization{Theme: types.ThemeWesteros}),
	)
	line.SetXAxis(hours).AddSeries("发言人数", data)
	return line
}

func commenterBar(rows []Row) *charts.Bar {
	counts := make(map[string]int)
	for _, r := range rows {
		counts[r.Nickname]++
	}
	top := sortedByCount(counts)
	if len(top) > topCommenters {
		top = top[:topCommenters]
	}

	var (
		names []string
		data  []opts.BarData
	)
	for _, e := range top {
		names = append(names, e.name)
		data = append(data, opts.BarData{Value: e.count})
	}
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: fmt.Sprintf("发言次数最多的用户 (前%d)", topCommenters)}),
		charts.WithInitializationOpts(opts.Initialization{Theme: types.ThemeWesteros}),
	)
	bar.SetXAxis(names).AddSeries("发言次数", data)
	return bar
}

type countEntry struct {
	name  string
	count int
}

// sortedByCount orders entries by descending count, ties by name so
// the chart layout is stable between runs.
func sortedByCount(counts map[string]int) []countEntry {
	entries := make([]countEntry, 0, len(counts))
	for name, count := range counts {
		entries = append(entries, countEntry{name, count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].name < entries[j].name
	})
	return entries
}

func pieItems(counts map[string]int, limit int) []opts.PieData {
	entries := sortedByCount(counts)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	items := make([]opts.PieData, 0, len(entries))
	for _, e := range entries {
		items = append(items, opts.PieData{Name: e.name, Value: e.count})
	}
	return items
}
