package worldbuilder

// Surname pool for generated characters.
var surnames = []string{
	"陈", "林", "沈", "顾", "苏", "萧", "叶", "秦", "裴", "霍",
	"温", "柳", "魏", "韩", "江", "容", "燕", "聂", "崔", "洛",
}

// Given-name pool for generated characters.
var givenNames = []string{
	"子义", "长风", "惊鸿", "无涯", "青崖", "映雪", "怀瑾", "北辰",
	"未央", "清让", "望舒", "折柳", "听澜", "归鸿", "不悔", "扶摇",
}

// Location name components.
var locationPrefixes = []string{
	"云中", "落霞", "临江", "广陵", "白帝", "枫桥", "九曲", "寒山",
	"栖凤", "望月", "青石", "赤水",
}

var locationSuffixes = []string{
	"城", "镇", "关", "渡", "谷", "坞", "寨", "驿",
}

// Faction name components.
var factionPrefixes = []string{
	"青龙", "玄武", "丹霞", "沧浪", "铁衣", "流云", "惊蛰", "听雨",
}

var factionSuffixes = []string{
	"会", "盟", "门", "阁", "堂", "卫",
}

// Item name components.
var itemPrefixes = []string{
	"玄铁", "赤金", "青铜", "寒玉", "紫檀", "乌木", "鎏金", "螭纹",
}

var itemSuffixes = []string{
	"剑", "印", "符", "镜", "佩", "弓", "笛", "盏",
}

// Quest titles for seeded stories.
var questTitles = []string{
	"寻回失落的玉玺",
	"护送商队过寒山关",
	"查明落霞镇的失踪案",
	"夺回被劫的军粮",
	"揭开青龙会的内应",
	"为盟主寻访名医",
	"追查赝品玄铁剑的来历",
	"平息临江渡的械斗",
}

// Opening themes for seeded stories.
var storyThemes = []string{
	"乱世将起，群雄割据，一枚传国玉玺搅动各方势力的野心。",
	"江湖门派明争暗斗，一封密信让无名小卒卷入漩涡中心。",
	"边关告急，商路断绝，乱象之下暗流涌动。",
	"一场大火烧毁了档案馆，与旧案相关的人物接连失踪。",
	"新君登基，旧臣未服，朝堂与江湖的界线日渐模糊。",
}
