package catalog

import "github.com/JustinTDCT/DoubanLink/internal/models"

// Collection is one Douban subject collection offered as a catalog.
type Collection struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Type      models.MediaType `json:"type"`
	HasGenre  bool             `json:"-"`
	IsDefault bool             `json:"-"`
}

type yearlyRanking struct {
	ID   string
	Year int
}

const (
	MovieYearlyRankingID = "__movie_yearly_ranking__"
	TVYearlyRankingID    = "__tv_yearly_ranking__"
)

var yearlyRankings = map[string][]yearlyRanking{
	MovieYearlyRankingID: {
		{"ECE472UNY", 2025}, {"ECBE7RX5A", 2024}, {"ECQ46F7XI", 2023}, {"ECKA55LSA", 2022},
		{"ECWY6B2GQ", 2021}, {"EC2A5MRIY", 2020}, {"ECFYHQBWQ", 2019}, {"2018_movie_1", 2018},
		{"2017_movie_chinese_score", 2017}, {"2016_movie_451", 2016}, {"2015_movie_3", 2015},
		{"2014_movie_2", 2014},
	},
	TVYearlyRankingID: {
		{"EC2FACYKQ", 2025}, {"ECYA7RAZQ", 2024}, {"ECTE6EOZA", 2023}, {"ECWU56XUI", 2022},
		{"ECOY56I6Y", 2021}, {"ECCM5TXSI", 2020}, {"ECR4HOW3I", 2019}, {"2018_tv_23", 2018},
		{"2017_tv_domestic_score", 2017}, {"2016_tv_478", 2016}, {"2015_tv_6", 2015},
		{"2014_tv_14", 2014},
	},
}

// Collections is every collection the manifest can advertise.
var Collections = []Collection{
	{ID: "movie_hot_gaia", Name: "豆瓣热门电影", Type: models.MediaTypeMovie, IsDefault: true},
	{ID: "movie_weekly_best", Name: "一周口碑电影榜", Type: models.MediaTypeMovie, IsDefault: true},
	{ID: "movie_real_time_hotest", Name: "实时热门电影", Type: models.MediaTypeMovie, IsDefault: true},
	{ID: "movie_top250", Name: "豆瓣电影 Top250", Type: models.MediaTypeMovie, IsDefault: true},
	{ID: "movie_showing", Name: "影院热映", Type: models.MediaTypeMovie, IsDefault: true},
	{ID: "film_genre_27", Name: "剧情片榜", Type: models.MediaTypeMovie, HasGenre: true},
	{ID: "movie_comedy", Name: "喜剧片榜", Type: models.MediaTypeMovie, HasGenre: true},
	{ID: "movie_love", Name: "爱情片榜", Type: models.MediaTypeMovie, HasGenre: true},
	{ID: "movie_action", Name: "动作片榜", Type: models.MediaTypeMovie, HasGenre: true},
	{ID: "movie_scifi", Name: "科幻片榜", Type: models.MediaTypeMovie, HasGenre: true},
	{ID: "film_genre_31", Name: "动画片榜", Type: models.MediaTypeMovie, HasGenre: true},
	{ID: "film_genre_32", Name: "悬疑片榜", Type: models.MediaTypeMovie, HasGenre: true},
	{ID: "film_genre_46", Name: "犯罪片榜", Type: models.MediaTypeMovie, HasGenre: true},
	{ID: "film_genre_33", Name: "惊悚片榜", Type: models.MediaTypeMovie, HasGenre: true},
	{ID: MovieYearlyRankingID, Name: "豆瓣年度评分最高电影", Type: models.MediaTypeMovie, HasGenre: true},

	{ID: "tv_hot", Name: "近期热门剧集", Type: models.MediaTypeSeries, IsDefault: true},
	{ID: "tv_american", Name: "近期热门美剧", Type: models.MediaTypeSeries},
	{ID: "tv_korean", Name: "近期热门韩剧", Type: models.MediaTypeSeries},
	{ID: "tv_domestic", Name: "近期热门国产剧", Type: models.MediaTypeSeries},
	{ID: "tv_japanese", Name: "近期热门日剧", Type: models.MediaTypeSeries},
	{ID: "tv_animation", Name: "近期热门动画", Type: models.MediaTypeSeries, IsDefault: true},
	{ID: "show_hot", Name: "近期热门综艺节目", Type: models.MediaTypeSeries, IsDefault: true},
	{ID: "tv_documentary", Name: "近期热门纪录片", Type: models.MediaTypeSeries},
	{ID: "tv_real_time_hotest", Name: "实时热门电视", Type: models.MediaTypeSeries, IsDefault: true},
	{ID: "tv_chinese_best_weekly", Name: "华语口碑剧集榜", Type: models.MediaTypeSeries, IsDefault: true},
	{ID: "tv_global_best_weekly", Name: "全球口碑剧集榜", Type: models.MediaTypeSeries, IsDefault: true},
	{ID: "show_chinese_best_weekly", Name: "国内口碑综艺榜", Type: models.MediaTypeSeries, IsDefault: true},
	{ID: "show_global_best_weekly", Name: "国外口碑综艺榜", Type: models.MediaTypeSeries, IsDefault: true},
	{ID: "EC74443FY", Name: "大陆剧榜", Type: models.MediaTypeSeries, HasGenre: true},
	{ID: "ECFA5DI7Q", Name: "美剧榜", Type: models.MediaTypeSeries, HasGenre: true},
	{ID: "ECNA46YBA", Name: "日剧榜", Type: models.MediaTypeSeries, HasGenre: true},
	{ID: "ECBE5CBEI", Name: "韩剧榜", Type: models.MediaTypeSeries, HasGenre: true},
	{ID: TVYearlyRankingID, Name: "豆瓣年度评分最高剧集", Type: models.MediaTypeSeries, HasGenre: true},
}

// DefaultCollections returns the collections enabled without configuration.
func DefaultCollections() []Collection {
	var out []Collection
	for _, c := range Collections {
		if c.IsDefault {
			out = append(out, c)
		}
	}
	return out
}

// LookupCollection finds a configured collection by ID.
func LookupCollection(id string) (Collection, bool) {
	for _, c := range Collections {
		if c.ID == id {
			return c, true
		}
	}
	return Collection{}, false
}

// resolveAlias maps a yearly-ranking alias onto the newest year's
// collection. Other IDs pass through.
func resolveAlias(id string) (string, bool) {
	years, ok := yearlyRankings[id]
	if !ok {
		return id, true
	}
	if len(years) == 0 {
		return "", false
	}
	latest := years[0]
	for _, y := range years[1:] {
		if y.Year > latest.Year {
			latest = y
		}
	}
	return latest.ID, true
}
