package prompts

import "strings"

// SpaceType is the canonical room category the renderer must keep.
type SpaceType string

const (
	SpaceLivingDining  SpaceType = "living_dining"
	SpaceBedroom       SpaceType = "bedroom"
	SpaceMasterBedroom SpaceType = "master_bedroom"
	SpaceKidsBedroom   SpaceType = "kids_bedroom"
	SpaceKitchen       SpaceType = "kitchen"
	SpaceBathroom      SpaceType = "bathroom"
	SpaceEntry         SpaceType = "entry"
	SpaceOther         SpaceType = "other"
)

// Intensity is how far the redesign may move away from the source photo.
type Intensity string

const (
	IntensityLight  Intensity = "light"
	IntensityMedium Intensity = "medium"
	IntensityHeavy  Intensity = "heavy"
)

// Rank orders intensities so thresholds can be compared.
func (i Intensity) Rank() int {
	switch i {
	case IntensityLight:
		return 1
	case IntensityMedium:
		return 2
	case IntensityHeavy:
		return 3
	default:
		return 0
	}
}

// rule is one row of a lookup table: the first matching row wins.
type rule struct {
	match func(string) bool
	value string
}

// keywords matches when the lower-cased input contains any of the words.
func keywords(words ...string) func(string) bool {
	return func(input string) bool {
		for _, w := range words {
			if strings.Contains(input, strings.ToLower(w)) {
				return true
			}
		}
		return false
	}
}

func lookup(table []rule, input string) (string, bool) {
	clean := strings.ToLower(strings.TrimSpace(input))
	if clean == "" {
		return "", false
	}
	for _, r := range table {
		if r.match(clean) {
			return r.value, true
		}
	}
	return "", false
}

// translate returns the mapped English phrase or the input verbatim.
func translate(table []rule, input string) string {
	if value, ok := lookup(table, input); ok {
		return value
	}
	return collapse(input)
}

// Order matters: more specific rows sit above the generic ones.
var spaceTable = []rule{
	{keywords("浴", "衛", "卫", "廁", "厕", "洗手間", "bath", "toilet", "washroom"), string(SpaceBathroom)},
	{keywords("主臥", "主卧", "master"), string(SpaceMasterBedroom)},
	{keywords("兒童", "儿童", "小孩", "kid", "child", "nursery"), string(SpaceKidsBedroom)},
	{keywords("臥", "卧", "睡房", "bedroom", "bed room"), string(SpaceBedroom)},
	{keywords("廚", "厨", "kitchen"), string(SpaceKitchen)},
	{keywords("玄關", "玄关", "走廊", "過道", "过道", "entry", "entrance", "foyer", "corridor", "hallway"), string(SpaceEntry)},
	{keywords("客廳", "客厅", "餐廳", "餐厅", "客餐", "起居", "living", "dining", "lounge"), string(SpaceLivingDining)},
	{keywords("other", "其他"), string(SpaceOther)},
}

var styleTable = []rule{
	{keywords("現代簡約", "现代简约", "modern minimal"), "Modern minimalist"},
	{keywords("北歐", "北欧", "scandi", "nordic"), "Scandinavian with light wood and soft textiles"},
	{keywords("無印", "无印", "muji"), "Muji-inspired Japanese minimalism with natural oak"},
	{keywords("日式", "和風", "和风", "japandi", "japanese"), "Japandi with natural wood and calm neutral tones"},
	{keywords("侘寂", "wabi"), "Wabi-sabi with textured plaster walls and organic forms"},
	{keywords("工業", "工业", "industrial"), "Industrial loft with metal accents and warm wood"},
	{keywords("輕奢", "轻奢", "luxury"), "Light luxury with brushed brass details and marble accents"},
	{keywords("新中式", "chinese"), "New Chinese style with refined wooden lattice details"},
	{keywords("美式", "american"), "American classic with framed panels and warm fabrics"},
	{keywords("法式", "french"), "French style with wall mouldings and elegant curves"},
	{keywords("現代", "现代", "modern", "contemporary"), "Modern contemporary"},
	{keywords("自然", "natural", "organic"), "Natural organic with plants and raw materials"},
}

var colorTable = []rule{
	{keywords("純白", "纯白", "pure white", "all white"), "pure white"},
	{keywords("黑白", "black and white", "monochrome"), "black and white"},
	{keywords("奶茶", "奶油", "cream", "latte"), "creamy latte beige"},
	{keywords("米白", "米色", "beige", "off-white", "off white"), "warm off-white and beige"},
	{keywords("原木", "木色", "wood"), "natural wood tones"},
	{keywords("灰", "grey", "gray"), "soft grey"},
	{keywords("大地", "earth", "terracotta"), "earth tones"},
	{keywords("藍", "蓝", "blue"), "muted blue accents"},
	{keywords("綠", "绿", "green", "sage"), "sage green accents"},
	{keywords("暖", "warm"), "warm neutral tones"},
	{keywords("冷", "cool"), "cool neutral tones"},
}

var focusTable = []rule{
	{keywords("收納", "收纳", "storage"), "maximised built-in storage"},
	{keywords("採光", "采光", "光", "light"), "bright, well-lit atmosphere"},
	{keywords("空間", "空间", "spacious", "space"), "open, uncluttered layout"},
	{keywords("溫馨", "温馨", "cozy", "cosy"), "cozy, inviting mood"},
	{keywords("質感", "质感", "texture", "premium"), "premium material textures"},
	{keywords("動線", "动线", "flow", "circulation"), "clear circulation paths"},
}

var storageTable = []rule{
	{keywords("隱藏", "隐藏", "hidden", "concealed"), "concealed full-height storage"},
	{keywords("開放", "开放", "open"), "open shelving for display"},
	{keywords("大量", "多", "lots", "plenty", "maximum"), "generous built-in cabinetry"},
	{keywords("少", "minimal", "less"), "minimal storage, keep it airy"},
}

var priorityTable = []rule{
	{keywords("預算", "预算", "budget", "cost"), "budget-friendly materials"},
	{keywords("實用", "实用", "practical", "function"), "practical everyday function"},
	{keywords("美觀", "美观", "aesthetic", "look"), "strong visual appeal"},
	{keywords("耐用", "durable", "easy clean", "好清潔", "好清洁"), "durable, easy-to-clean surfaces"},
}

var intensityTable = []rule{
	{keywords("輕", "轻", "微", "小改", "light", "subtle", "minor"), string(IntensityLight)},
	{keywords("大改", "重", "全", "heavy", "full", "major", "complete"), string(IntensityHeavy)},
	{keywords("中", "medium", "moderate"), string(IntensityMedium)},
}

// spaceProfile holds the English name and must-have furniture for a
// space type.
type spaceProfile struct {
	name       string
	essentials string
}

var spaceProfiles = map[SpaceType]spaceProfile{
	SpaceLivingDining: {
		name:       "living and dining room",
		essentials: "Must include a sofa, coffee table, TV or feature wall, rug, dining table with chairs and a pendant light over the table.",
	},
	SpaceBedroom: {
		name:       "bedroom",
		essentials: "Must include a bed with headboard and bedding, two bedside tables with lamps, a wardrobe and curtains.",
	},
	SpaceMasterBedroom: {
		name:       "master bedroom",
		essentials: "Must include a queen or king bed with headboard and bedding, bedside tables with lamps, a full-height wardrobe and curtains.",
	},
	SpaceKidsBedroom: {
		name:       "kids bedroom",
		essentials: "Must include a single bed with bedding, a study desk with chair, toy and book storage and a soft rug.",
	},
	SpaceKitchen: {
		name:       "kitchen",
		essentials: "Must include base and wall cabinets, a continuous countertop with sink and cooktop, a range hood, a finished backsplash and under-cabinet lighting.",
	},
	SpaceBathroom: {
		name:       "bathroom",
		essentials: "Must include a vanity with basin and mirror, a toilet, a shower area with glass screen, tiled walls and floor and towel rails.",
	},
	SpaceEntry: {
		name:       "entry corridor",
		essentials: "Must include a shoe cabinet, a bench or seat, a full-length mirror, coat hooks and ceiling lighting.",
	},
	SpaceOther: {
		name:       "interior room",
		essentials: "Must include furniture appropriate to the room's function, finished surfaces and lighting.",
	},
}

// ResolveSpace maps a space label to its canonical type. Unknown labels
// keep their verbatim text as the English name.
func ResolveSpace(label string) (SpaceType, string) {
	if value, ok := lookup(spaceTable, label); ok {
		space := SpaceType(value)
		return space, spaceProfiles[space].name
	}
	if name := collapse(label); name != "" {
		return SpaceOther, name
	}
	return SpaceOther, spaceProfiles[SpaceOther].name
}

// ResolveIntensity maps an intensity label; an empty or unknown label is
// treated as medium.
func ResolveIntensity(label string) Intensity {
	if value, ok := lookup(intensityTable, label); ok {
		return Intensity(value)
	}
	return IntensityMedium
}
