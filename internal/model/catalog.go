package model

// CatalogBook は外部の書籍カタログ検索で得られる候補1件を表す。
type CatalogBook struct {
	Title        string
	ISBN         string
	Author       string
	Manufacturer string
}
