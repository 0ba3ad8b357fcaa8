package cli

import "sort"

// fieldDescriptions explains report fields. It is kept apart from the
// engine types, which carry no display metadata.
var fieldDescriptions = map[string]string{
	"file_path":        "被分析文件的路径",
	"file_size":        "文件在磁盘上的大小，包括附加数据",
	"architecture":     "文件头 Machine 字段对应的目标架构",
	"subsystem":        "可选头 Subsystem 字段，决定运行环境",
	"entry_point":      "AddressOfEntryPoint，入口点的 RVA",
	"image_base":       "ImageBase，镜像的首选加载地址",
	"checksum":         "可选头 CheckSum 字段与重新计算的值",
	"virtual_address":  "节区加载后相对于镜像基址的偏移 (RVA)",
	"virtual_size":     "节区加载到内存后的大小",
	"offset":           "PointerToRawData，节区数据在文件中的偏移",
	"size":             "SizeOfRawData，节区在文件中占用的大小",
	"characteristics":  "节区特征标志 (IMAGE_SCN_*)",
	"permissions":      "由特征标志推导的读/写/执行权限",
	"entropy":          "节区数据的香农熵，接近 8 表示压缩或加密",
	"contents":         "解析后落在该节区内的数据目录",
	"kind":             "数据目录槽位名称",
	"rva":              "相对虚拟地址：相对于镜像基址的偏移",
	"va":               "虚拟地址：镜像基址 + RVA",
	"section":          "包含该数据的节区",
	"status":           "数据目录的解析状态 (absent|unresolved|raw|decoded|failed)",
	"language":         "资源语言ID (LANGID)，0 表示语言中立",
	"code_page":        "资源数据使用的代码页",
	"type":             "资源类型 (RT_*) 或自定义类型名",
	"name":             "资源名称或整数ID",
	"hotspot":          "光标热点坐标，重建 .cur 时写入目录项",
	"bit_count":        "每像素位数",
	"bytes_in_res":     "组目录项记录的图像数据大小",
	"callbacks":        "TLS 回调函数的虚拟地址",
	"pdb":              "CodeView 记录指向的 PDB 文件路径",
	"guid":             "CodeView 记录中 PDB 的 GUID",
	"age":              "CodeView 记录中 PDB 的 Age",
	"symbol_server_id": "符号服务器使用的 GUID+Age 标识",
}

// DescribeField returns the description of a report field.
func DescribeField(name string) string {
	if d, ok := fieldDescriptions[name]; ok {
		return d
	}
	return "无说明"
}

// FieldNames returns the described field names, sorted.
func FieldNames() []string {
	names := make([]string, 0, len(fieldDescriptions))
	for name := range fieldDescriptions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
